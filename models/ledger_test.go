package models_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/optics_backend/models"
	"github.com/shopspring/decimal"
)

func saleLines(itemId int64, qty, price, taxRate int64) []models.TransactionLine {
	return []models.TransactionLine{{
		ItemId:  itemId,
		Qty:     decimal.NewFromInt(qty),
		Price:   decimal.NewFromInt(price),
		TaxRate: decimal.NewFromInt(taxRate),
	}}
}

func partyBalance(t *testing.T, ctrl *models.Controller, id int64) decimal.Decimal {
	t.Helper()
	rec, err := ctrl.GetItem(models.CollectionParties, id)
	if err != nil {
		t.Fatalf("party %d: %v", id, err)
	}
	return rec.(*models.Party).Balance
}

func itemStock(t *testing.T, ctrl *models.Controller, id int64) decimal.Decimal {
	t.Helper()
	rec, err := ctrl.GetItem(models.CollectionItems, id)
	if err != nil {
		t.Fatalf("item %d: %v", id, err)
	}
	return rec.(*models.Item).Stock
}

func TestSaleLifecycleBalances(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	party := addParty(t, ctrl, "Daw Hla")
	item := addItemWithStock(t, ctrl, "Frame A", 10)

	// qty 2 x 100 at 18% tax: subtotal 200, tax 36, total 236.
	sale := &models.Transaction{
		PartyId: party.Id,
		Lines:   saleLines(item.Id, 2, 100, 18),
	}
	if err := ctrl.PostTransaction(context.Background(), models.KindSale, sale); err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}
	wantDecimal(t, sale.Subtotal, "200")
	wantDecimal(t, sale.TaxAmount, "36")
	wantDecimal(t, sale.TotalAmount, "236")
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "236")
	wantDecimal(t, itemStock(t, ctrl, item.Id), "8")

	// Edit to qty 3: totals recompute to 354 and the balance follows the
	// rollback-then-reapply path, never a diff.
	err := ctrl.EditTransaction(context.Background(), models.KindSale, sale.Id, models.Patch{
		"items": saleLines(item.Id, 3, 100, 18),
	})
	if err != nil {
		t.Fatalf("EditTransaction: %v", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "354")
	wantDecimal(t, itemStock(t, ctrl, item.Id), "7")

	if err := ctrl.DeleteTransaction(context.Background(), models.KindSale, sale.Id); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "0")
	wantDecimal(t, itemStock(t, ctrl, item.Id), "10")
	if n := len(ctrl.GetItems(models.CollectionSales)); n != 0 {
		t.Fatalf("sales = %d, want 0", n)
	}
}

func TestStockAcrossPurchaseAndSale(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	vendor := addParty(t, ctrl, "Supplier Co")
	item := addItemWithStock(t, ctrl, "Lens B", 10)

	purchase := &models.Transaction{
		PartyId: vendor.Id,
		NoTax:   true,
		Lines:   saleLines(item.Id, 5, 40, 0),
	}
	if err := ctrl.PostTransaction(context.Background(), models.KindPurchase, purchase); err != nil {
		t.Fatalf("post purchase: %v", err)
	}
	wantDecimal(t, itemStock(t, ctrl, item.Id), "15")
	// Purchase lowers what the vendor owes us: -200.
	wantDecimal(t, partyBalance(t, ctrl, vendor.Id), "-200")

	customer := addParty(t, ctrl, "Walk In")
	sale := &models.Transaction{
		PartyId: customer.Id,
		NoTax:   true,
		Lines:   saleLines(item.Id, 3, 70, 0),
	}
	if err := ctrl.PostTransaction(context.Background(), models.KindSale, sale); err != nil {
		t.Fatalf("post sale: %v", err)
	}
	wantDecimal(t, itemStock(t, ctrl, item.Id), "12")

	if err := ctrl.DeleteTransaction(context.Background(), models.KindSale, sale.Id); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	wantDecimal(t, itemStock(t, ctrl, item.Id), "15")

	if err := ctrl.DeleteTransaction(context.Background(), models.KindPurchase, purchase.Id); err != nil {
		t.Fatalf("delete purchase: %v", err)
	}
	wantDecimal(t, itemStock(t, ctrl, item.Id), "10")
	wantDecimal(t, partyBalance(t, ctrl, vendor.Id), "0")
}

func TestNoTaxOverridesLineRates(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	party := addParty(t, ctrl, "Cash Sale")
	item := addItemWithStock(t, ctrl, "Frame C", 10)

	sale := &models.Transaction{
		PartyId: party.Id,
		NoTax:   true,
		Lines:   saleLines(item.Id, 2, 100, 18),
	}
	if err := ctrl.PostTransaction(context.Background(), models.KindSale, sale); err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}
	wantDecimal(t, sale.TaxAmount, "0")
	wantDecimal(t, sale.TotalAmount, "200")
}

func TestEditValidationDoesNotDisturbEffects(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	party := addParty(t, ctrl, "Ko Ko")
	item := addItemWithStock(t, ctrl, "Frame D", 10)

	sale := &models.Transaction{
		PartyId: party.Id,
		Lines:   saleLines(item.Id, 2, 100, 18),
	}
	if err := ctrl.PostTransaction(context.Background(), models.KindSale, sale); err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}

	// An edit that strips all lines is invalid; the rejection must land
	// before any rollback so balance and stock stay as posted.
	err := ctrl.EditTransaction(context.Background(), models.KindSale, sale.Id, models.Patch{
		"items": []models.TransactionLine{},
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "236")
	wantDecimal(t, itemStock(t, ctrl, item.Id), "8")
}

func TestDeleteTransactionMissingIsNoop(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	saves := gw.saveCount()

	if err := ctrl.DeleteTransaction(context.Background(), models.KindSale, 12345); err != nil {
		t.Fatalf("delete missing sale: %v", err)
	}
	if gw.saveCount() != saves {
		t.Fatalf("missing delete triggered a save")
	}
}

func TestEffectsSkipMissingPartyAndItem(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	party := addParty(t, ctrl, "Leaving")
	item := addItemWithStock(t, ctrl, "Frame E", 10)

	sale := &models.Transaction{
		PartyId: party.Id,
		Lines:   saleLines(item.Id, 2, 100, 18),
	}
	if err := ctrl.PostTransaction(context.Background(), models.KindSale, sale); err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}

	// Remove the party and the item, then delete the sale: the rollback
	// quietly skips the vanished records instead of failing.
	if err := ctrl.DeleteItem(context.Background(), models.CollectionParties, party.Id); err != nil {
		t.Fatalf("delete party: %v", err)
	}
	if err := ctrl.DeleteItem(context.Background(), models.CollectionItems, item.Id); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if err := ctrl.DeleteTransaction(context.Background(), models.KindSale, sale.Id); err != nil {
		t.Fatalf("delete sale with missing refs: %v", err)
	}
	if n := len(ctrl.GetItems(models.CollectionSales)); n != 0 {
		t.Fatalf("sales = %d, want 0", n)
	}
}

func TestConcurrentPaymentsConserveBalance(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	party := addParty(t, ctrl, "Busy Counter")

	// Hammer one party from many goroutines: every posted delta must
	// land, with no read-modify-write interleaving losing updates.
	const workers = 16
	const perWorker = 25
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p := &models.Payment{
					PartyId:     party.Id,
					Type:        models.PaymentTypeIn,
					TotalAmount: decimal.NewFromInt(10),
				}
				if err := ctrl.PostPayment(context.Background(), p); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("PostPayment: %v", err)
	}

	wantDecimal(t, partyBalance(t, ctrl, party.Id), "-4000")
	if n := len(ctrl.GetItems(models.CollectionPayments)); n != workers*perWorker {
		t.Fatalf("payments = %d, want %d", n, workers*perWorker)
	}
}

func TestPostSaleRejectsUnknownItem(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	party := addParty(t, ctrl, "New Customer")
	saves := gw.saveCount()

	sale := &models.Transaction{
		PartyId: party.Id,
		Lines:   saleLines(9999, 2, 100, 18),
	}
	err := ctrl.PostTransaction(context.Background(), models.KindSale, sale)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if n := len(ctrl.GetItems(models.CollectionSales)); n != 0 {
		t.Fatalf("sales = %d, want 0", n)
	}
	if gw.saveCount() != saves {
		t.Fatalf("rejected sale triggered a save")
	}
}

func TestEditSaleRejectsUnknownItem(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	party := addParty(t, ctrl, "Retarget")
	item := addItemWithStock(t, ctrl, "Frame H", 10)

	sale := &models.Transaction{
		PartyId: party.Id,
		Lines:   saleLines(item.Id, 2, 100, 18),
	}
	if err := ctrl.PostTransaction(context.Background(), models.KindSale, sale); err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}

	err := ctrl.EditTransaction(context.Background(), models.KindSale, sale.Id, models.Patch{
		"items": saleLines(9999, 2, 100, 18),
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	// Effects as posted, untouched by the rejected edit.
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "236")
	wantDecimal(t, itemStock(t, ctrl, item.Id), "8")
}

func TestEditSaveFailureKeepsLedgerConsistent(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	party := addParty(t, ctrl, "Flaky Disk")
	item := addItemWithStock(t, ctrl, "Frame G", 10)

	sale := &models.Transaction{
		PartyId: party.Id,
		Lines:   saleLines(item.Id, 2, 100, 18),
	}
	if err := ctrl.PostTransaction(context.Background(), models.KindSale, sale); err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}

	// A failed save surfaces ErrPersistence, but the in-memory protocol
	// has completed: record, balance and stock all reflect the edit.
	gw.saveErr = errors.New("disk full")
	err := ctrl.EditTransaction(context.Background(), models.KindSale, sale.Id, models.Patch{
		"items": saleLines(item.Id, 3, 100, 18),
	})
	if !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	rec, err := ctrl.GetItem(models.CollectionSales, sale.Id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	wantDecimal(t, rec.(*models.Transaction).TotalAmount, "354")
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "354")
	wantDecimal(t, itemStock(t, ctrl, item.Id), "7")
}

func TestPaymentLifecycleBalances(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	party := addParty(t, ctrl, "Settles Up")
	item := addItemWithStock(t, ctrl, "Frame F", 10)

	sale := &models.Transaction{
		PartyId: party.Id,
		NoTax:   true,
		Lines:   saleLines(item.Id, 1, 300, 0),
	}
	if err := ctrl.PostTransaction(context.Background(), models.KindSale, sale); err != nil {
		t.Fatalf("post sale: %v", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "300")

	payment := &models.Payment{
		PartyId:     party.Id,
		Type:        models.PaymentTypeIn,
		TotalAmount: decimal.NewFromInt(100),
	}
	if err := ctrl.PostPayment(context.Background(), payment); err != nil {
		t.Fatalf("PostPayment: %v", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "200")

	err := ctrl.EditPayment(context.Background(), payment.Id, models.Patch{
		"totalAmount": "250",
	})
	if err != nil {
		t.Fatalf("EditPayment: %v", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "50")

	if err := ctrl.DeletePayment(context.Background(), payment.Id); err != nil {
		t.Fatalf("DeletePayment: %v", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, party.Id), "300")
}

func TestPaymentOutRaisesBalance(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	vendor := addParty(t, ctrl, "Paid Supplier")

	payment := &models.Payment{
		PartyId:     vendor.Id,
		Type:        models.PaymentTypeOut,
		TotalAmount: decimal.NewFromInt(80),
	}
	if err := ctrl.PostPayment(context.Background(), payment); err != nil {
		t.Fatalf("PostPayment: %v", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, vendor.Id), "80")
}

func TestEditPaymentMovesParty(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	a := addParty(t, ctrl, "Party A")
	b := addParty(t, ctrl, "Party B")

	payment := &models.Payment{
		PartyId:     a.Id,
		Type:        models.PaymentTypeIn,
		TotalAmount: decimal.NewFromInt(100),
	}
	if err := ctrl.PostPayment(context.Background(), payment); err != nil {
		t.Fatalf("PostPayment: %v", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, a.Id), "-100")

	// Moving the payment rolls back A and applies to B.
	err := ctrl.EditPayment(context.Background(), payment.Id, models.Patch{
		"partyId": b.Id,
	})
	if err != nil {
		t.Fatalf("EditPayment: %v", err)
	}
	wantDecimal(t, partyBalance(t, ctrl, a.Id), "0")
	wantDecimal(t, partyBalance(t, ctrl, b.Id), "-100")
}
