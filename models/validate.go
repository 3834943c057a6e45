package models

import (
	"fmt"

	"bitbucket.org/mmdatafocus/optics_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// validateRecord is the per-collection gate run before any in-memory
// change. Failures are ErrValidation; no I/O has happened yet.
func validateRecord(c Collection, rec Record, biz *Business) error {
	switch c {
	case CollectionParties:
		p, ok := rec.(*Party)
		if !ok {
			return fmt.Errorf("%w: expected party record", ErrValidation)
		}
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if p.BusinessId == 0 {
			return fmt.Errorf("%w: businessId is required", ErrValidation)
		}
		if p.Email != "" && !utils.IsValidEmail(p.Email) {
			return fmt.Errorf("%w: invalid email %q", ErrValidation, p.Email)
		}
	case CollectionItems:
		i, ok := rec.(*Item)
		if !ok {
			return fmt.Errorf("%w: expected item record", ErrValidation)
		}
		if err := validate.Struct(i); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if i.BusinessId == 0 {
			return fmt.Errorf("%w: businessId is required", ErrValidation)
		}
	case CollectionSales, CollectionPurchases:
		t, ok := rec.(*Transaction)
		if !ok {
			return fmt.Errorf("%w: expected transaction record", ErrValidation)
		}
		if err := validateTransaction(t, biz.Data); err != nil {
			return err
		}
	case CollectionPayments:
		p, ok := rec.(*Payment)
		if !ok {
			return fmt.Errorf("%w: expected payment record", ErrValidation)
		}
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if p.PartyId == 0 {
			return fmt.Errorf("%w: partyId is required", ErrValidation)
		}
		if !p.TotalAmount.IsPositive() {
			return fmt.Errorf("%w: totalAmount must be positive", ErrValidation)
		}
	case CollectionExpenses:
		e, ok := rec.(*Expense)
		if !ok {
			return fmt.Errorf("%w: expected expense record", ErrValidation)
		}
		if err := validate.Struct(e); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if !e.Amount.IsPositive() {
			return fmt.Errorf("%w: amount must be positive", ErrValidation)
		}
	default:
		// Any other collection: well-formed record object only.
		if rec == nil {
			return fmt.Errorf("%w: nil record", ErrValidation)
		}
	}

	// Records are scoped to the business that owns the store, settings
	// excepted.
	if c != CollectionSettings && rec.GetBusinessId() != biz.Id {
		return fmt.Errorf("%w: record businessId %d does not match active business %d",
			ErrValidation, rec.GetBusinessId(), biz.Id)
	}
	return nil
}

func validateTransaction(t *Transaction, rs *RecordStore) error {
	if t.PartyId == 0 {
		return fmt.Errorf("%w: partyId is required", ErrValidation)
	}
	if t.BusinessId == 0 {
		return fmt.Errorf("%w: businessId is required", ErrValidation)
	}
	if len(t.Lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrValidation)
	}
	hasRealLine := false
	for _, line := range t.Lines {
		if line.ItemId != 0 && line.Qty.IsPositive() {
			hasRealLine = true
			break
		}
	}
	if !hasRealLine {
		return fmt.Errorf("%w: at least one line needs an item and a positive qty", ErrValidation)
	}
	// Every referenced item must exist right now. Records whose items
	// vanish later keep their dangling lines; the effects side skips
	// those on rollback.
	for _, line := range t.Lines {
		if line.ItemId == 0 {
			continue
		}
		if _, found := rs.find(CollectionItems, line.ItemId); !found {
			return fmt.Errorf("%w: line references unknown item %d", ErrValidation, line.ItemId)
		}
	}
	if !t.TotalAmount.IsPositive() {
		return fmt.Errorf("%w: totalAmount must be positive", ErrValidation)
	}
	return nil
}

// ComputeTotals recomputes the money identity from the lines:
// subtotal = sum(qty*price), tax = 0 when noTax else
// sum(qty*price*rate/100), total = subtotal + tax.
func (t *Transaction) ComputeTotals() {
	subtotal := decimal.Zero
	tax := decimal.Zero
	hundred := decimal.NewFromInt(100)
	for i := range t.Lines {
		line := &t.Lines[i]
		lineTotal := line.Qty.Mul(line.Price)
		line.Total = lineTotal
		subtotal = subtotal.Add(lineTotal)
		if !t.NoTax {
			tax = tax.Add(lineTotal.Mul(line.TaxRate).Div(hundred))
		}
	}
	if t.NoTax {
		tax = decimal.Zero
	}
	t.Subtotal = utils.RoundAmount(subtotal)
	t.TaxAmount = utils.RoundAmount(tax)
	t.TotalAmount = t.Subtotal.Add(t.TaxAmount)
}
