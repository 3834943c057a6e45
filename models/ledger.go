package models

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// TransactionKind selects the ledger dispatch for a posting flow.
type TransactionKind string

const (
	KindSale     TransactionKind = "sale"
	KindPurchase TransactionKind = "purchase"
)

func kindCollection(kind TransactionKind) (Collection, error) {
	switch kind {
	case KindSale:
		return CollectionSales, nil
	case KindPurchase:
		return CollectionPurchases, nil
	}
	return "", fmt.Errorf("%w: unknown transaction kind %q", ErrValidation, kind)
}

// Sign conventions. Positive party balance = amount owed TO the
// business. A sale raises the receivable; a purchase lowers it. A sale
// consumes stock; a purchase adds stock.
func balanceSign(kind TransactionKind) decimal.Decimal {
	if kind == KindPurchase {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func stockSign(kind TransactionKind) decimal.Decimal {
	if kind == KindPurchase {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// Payment-in settles a receivable (balance down); payment-out settles a
// payable (balance up).
func paymentSign(t PaymentType) decimal.Decimal {
	if t == PaymentTypeIn {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// applyPartyBalanceDeltaLocked adds delta to a party's running balance.
// Assumes c.mu is held, so the read and the write are one atomic step
// and concurrent postings against the same party cannot lose deltas.
// A missing party is skipped silently so historical transactions stay
// editable and deletable.
func (c *Controller) applyPartyBalanceDeltaLocked(partyId int64, delta decimal.Decimal) {
	biz, ok := c.books[c.activeId]
	if !ok {
		return
	}
	rec, found := biz.Data.find(CollectionParties, partyId)
	if !found {
		return
	}
	party, ok := rec.(*Party)
	if !ok {
		return
	}
	party.Balance = party.Balance.Add(delta)
}

// applyItemStockDeltaLocked mirrors applyPartyBalanceDeltaLocked for
// stock levels.
func (c *Controller) applyItemStockDeltaLocked(itemId int64, delta decimal.Decimal) {
	biz, ok := c.books[c.activeId]
	if !ok {
		return
	}
	rec, found := biz.Data.find(CollectionItems, itemId)
	if !found {
		return
	}
	item, ok := rec.(*Item)
	if !ok {
		return
	}
	item.Stock = item.Stock.Add(delta)
}

// applyTransactionEffectsLocked applies (direction=+1) or rolls back
// (direction=-1) the balance and stock side-effects of one transaction.
// Each update reads the live value right before writing, so a rollback
// immediately followed by a reapply composes correctly.
func (c *Controller) applyTransactionEffectsLocked(kind TransactionKind, t *Transaction, direction decimal.Decimal) {
	c.applyPartyBalanceDeltaLocked(t.PartyId, balanceSign(kind).Mul(t.TotalAmount).Mul(direction))
	for _, line := range t.Lines {
		if line.ItemId == 0 || !line.Qty.IsPositive() {
			continue
		}
		c.applyItemStockDeltaLocked(line.ItemId, stockSign(kind).Mul(line.Qty).Mul(direction))
	}
}

var one = decimal.NewFromInt(1)
var minusOne = decimal.NewFromInt(-1)

// PostTransaction creates a sale or purchase and applies its ledger
// effects: totals are recomputed server-side, the record is stored,
// then the party balance and each line's item stock are updated. The
// insert and its effects commit as one step under the state lock and
// the whole document is saved once at the end.
func (c *Controller) PostTransaction(ctx context.Context, kind TransactionKind, t *Transaction) error {
	col, err := kindCollection(kind)
	if err != nil {
		return err
	}
	t.ComputeTotals()

	c.mu.Lock()
	if err := c.addItemLocked(col, t); err != nil {
		c.mu.Unlock()
		return err
	}
	c.applyTransactionEffectsLocked(kind, t, one)
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

// EditTransaction performs rollback-then-reapply, never a diff: the old
// record's effects are reversed with its OLD totals/quantities, the
// edited record is stored, then fresh effects are applied from the NEW
// totals/quantities against the post-rollback balances. The patched
// record is validated before the rollback, so a rejected edit leaves
// balances and stock exactly as posted. The whole sequence runs under
// one lock hold with a single save at the end; a save failure reports
// ErrPersistence against fully consistent in-memory state.
func (c *Controller) EditTransaction(ctx context.Context, kind TransactionKind, id int64, patch Patch) error {
	col, err := kindCollection(kind)
	if err != nil {
		return err
	}

	c.mu.Lock()
	biz, err := c.mutableBusinessLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	rec, found := biz.Data.find(col, id)
	if !found {
		c.mu.Unlock()
		return ErrNotFound
	}
	old, ok := rec.(*Transaction)
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}

	updated := old.clone().(*Transaction)
	if err := updated.applyPatch(patch); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	updated.ComputeTotals()
	if err := validateRecord(col, updated, biz); err != nil {
		c.mu.Unlock()
		return err
	}

	c.applyTransactionEffectsLocked(kind, old, minusOne)
	biz.Data.replace(col, updated)
	c.applyTransactionEffectsLocked(kind, updated, one)
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

// DeleteTransaction rolls back the ledger effects, then removes the
// record, all under one lock hold. Deleting an absent id is a no-op
// and does not trigger a save.
func (c *Controller) DeleteTransaction(ctx context.Context, kind TransactionKind, id int64) error {
	col, err := kindCollection(kind)
	if err != nil {
		return err
	}

	c.mu.Lock()
	biz, err := c.mutableBusinessLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	rec, found := biz.Data.find(col, id)
	if !found {
		c.mu.Unlock()
		return nil
	}
	old, ok := rec.(*Transaction)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.applyTransactionEffectsLocked(kind, old, minusOne)
	biz.Data.remove(col, id)
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

// PostPayment stores a payment and applies its balance effect. Payments
// carry no lines, so there is no stock side.
func (c *Controller) PostPayment(ctx context.Context, p *Payment) error {
	c.mu.Lock()
	if err := c.addItemLocked(CollectionPayments, p); err != nil {
		c.mu.Unlock()
		return err
	}
	c.applyPartyBalanceDeltaLocked(p.PartyId, paymentSign(p.Type).Mul(p.TotalAmount))
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

// EditPayment is rollback-then-reapply over the balance effect only.
func (c *Controller) EditPayment(ctx context.Context, id int64, patch Patch) error {
	c.mu.Lock()
	biz, err := c.mutableBusinessLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	rec, found := biz.Data.find(CollectionPayments, id)
	if !found {
		c.mu.Unlock()
		return ErrNotFound
	}
	old, ok := rec.(*Payment)
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}

	updated := old.clone().(*Payment)
	if err := updated.applyPatch(patch); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := validateRecord(CollectionPayments, updated, biz); err != nil {
		c.mu.Unlock()
		return err
	}

	c.applyPartyBalanceDeltaLocked(old.PartyId, paymentSign(old.Type).Mul(old.TotalAmount).Neg())
	biz.Data.replace(CollectionPayments, updated)
	c.applyPartyBalanceDeltaLocked(updated.PartyId, paymentSign(updated.Type).Mul(updated.TotalAmount))
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

func (c *Controller) DeletePayment(ctx context.Context, id int64) error {
	c.mu.Lock()
	biz, err := c.mutableBusinessLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	rec, found := biz.Data.find(CollectionPayments, id)
	if !found {
		c.mu.Unlock()
		return nil
	}
	old, ok := rec.(*Payment)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.applyPartyBalanceDeltaLocked(old.PartyId, paymentSign(old.Type).Mul(old.TotalAmount).Neg())
	biz.Data.remove(CollectionPayments, id)
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}
