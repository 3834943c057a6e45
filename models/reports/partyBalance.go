package reports

import (
	"fmt"
	"net/http"

	"bitbucket.org/mmdatafocus/optics_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type PartyBalanceRow struct {
	PartyId        int64           `json:"partyId"`
	PartyName      string          `json:"partyName"`
	PartyType      string          `json:"partyType"`
	Phone          string          `json:"phone"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
}

// GetPartyBalanceReport projects the active business's parties into
// balance rows. Positive closing balance means the party owes the
// business.
func GetPartyBalanceReport(c *models.Controller) []*PartyBalanceRow {
	records := c.GetItems(models.CollectionParties)
	rows := make([]*PartyBalanceRow, 0, len(records))
	for _, rec := range records {
		p, ok := rec.(*models.Party)
		if !ok {
			continue
		}
		rows = append(rows, &PartyBalanceRow{
			PartyId:        p.Id,
			PartyName:      p.Name,
			PartyType:      string(p.Type),
			Phone:          p.Phone,
			OpeningBalance: p.OpeningBalance,
			ClosingBalance: p.Balance,
		})
	}
	return rows
}

// ExportPartyBalanceExcel streams the report as an xlsx attachment.
func ExportPartyBalanceExcel(w http.ResponseWriter, rows []*PartyBalanceRow) error {
	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "PartyName")
	f.SetCellValue(sheet, "B1", "Type")
	f.SetCellValue(sheet, "C1", "Phone")
	f.SetCellValue(sheet, "D1", "OpeningBalance")
	f.SetCellValue(sheet, "E1", "ClosingBalance")

	// Add data
	for i, r := range rows {
		f.SetCellValue(sheet, "A"+fmt.Sprint(i+2), r.PartyName)
		f.SetCellValue(sheet, "B"+fmt.Sprint(i+2), r.PartyType)
		f.SetCellValue(sheet, "C"+fmt.Sprint(i+2), r.Phone)
		f.SetCellValue(sheet, "D"+fmt.Sprint(i+2), r.OpeningBalance.InexactFloat64())
		f.SetCellValue(sheet, "E"+fmt.Sprint(i+2), r.ClosingBalance.InexactFloat64())
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=party-balances.xlsx")
	return f.Write(w)
}
