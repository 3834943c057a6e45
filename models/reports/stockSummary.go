package reports

import (
	"fmt"
	"net/http"

	"bitbucket.org/mmdatafocus/optics_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type StockSummaryRow struct {
	ItemId       int64           `json:"itemId"`
	ItemName     string          `json:"itemName"`
	Category     string          `json:"category"`
	Unit         string          `json:"unit"`
	OpeningStock decimal.Decimal `json:"openingStock"`
	CurrentStock decimal.Decimal `json:"currentStock"`
	StockValue   decimal.Decimal `json:"stockValue"`
}

// GetStockSummaryReport values current stock at purchase price.
func GetStockSummaryReport(c *models.Controller) []*StockSummaryRow {
	records := c.GetItems(models.CollectionItems)
	rows := make([]*StockSummaryRow, 0, len(records))
	for _, rec := range records {
		i, ok := rec.(*models.Item)
		if !ok {
			continue
		}
		rows = append(rows, &StockSummaryRow{
			ItemId:       i.Id,
			ItemName:     i.Name,
			Category:     i.Category,
			Unit:         i.Unit,
			OpeningStock: i.OpeningStock,
			CurrentStock: i.Stock,
			StockValue:   i.Stock.Mul(i.PurchasePrice),
		})
	}
	return rows
}

func ExportStockSummaryExcel(w http.ResponseWriter, rows []*StockSummaryRow) error {
	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	f.SetCellValue(sheet, "A1", "ItemName")
	f.SetCellValue(sheet, "B1", "Category")
	f.SetCellValue(sheet, "C1", "Unit")
	f.SetCellValue(sheet, "D1", "OpeningStock")
	f.SetCellValue(sheet, "E1", "CurrentStock")
	f.SetCellValue(sheet, "F1", "StockValue")

	for i, r := range rows {
		f.SetCellValue(sheet, "A"+fmt.Sprint(i+2), r.ItemName)
		f.SetCellValue(sheet, "B"+fmt.Sprint(i+2), r.Category)
		f.SetCellValue(sheet, "C"+fmt.Sprint(i+2), r.Unit)
		f.SetCellValue(sheet, "D"+fmt.Sprint(i+2), r.OpeningStock.InexactFloat64())
		f.SetCellValue(sheet, "E"+fmt.Sprint(i+2), r.CurrentStock.InexactFloat64())
		f.SetCellValue(sheet, "F"+fmt.Sprint(i+2), r.StockValue.InexactFloat64())
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=stock-summary.xlsx")
	return f.Write(w)
}
