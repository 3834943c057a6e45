package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction type tags used in the flat backup format.
const (
	dumpTypeSale       = "sale"
	dumpTypePurchase   = "purchase"
	dumpTypePaymentIn  = "payment-in"
	dumpTypePaymentOut = "payment-out"
)

// BusinessProfile is a business without its record store, used in the
// flat backup where records travel separately.
type BusinessProfile struct {
	Id        int    `json:"id"`
	Name      string `json:"name"`
	GstNumber string `json:"gstNumber,omitempty"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	State     string `json:"state,omitempty"`
}

// DumpTransaction flattens sales, purchases and payments into one
// tagged row. Payments carry no lines; their amount lands in
// totalAmount and mode is set.
type DumpTransaction struct {
	Type        string            `json:"type"`
	Id          int64             `json:"id"`
	BusinessId  int               `json:"businessId"`
	PartyId     int64             `json:"partyId"`
	PartyName   string            `json:"partyName,omitempty"`
	Date        string            `json:"date,omitempty"`
	Lines       []TransactionLine `json:"items,omitempty"`
	NoTax       bool              `json:"noTax,omitempty"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
	TaxAmount   decimal.Decimal   `json:"taxAmount"`
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	Mode        string            `json:"mode,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// BackupDump is the flat export shape: all businesses' records in one
// document, each record carrying its businessId.
type BackupDump struct {
	Businesses   []BusinessProfile `json:"businesses"`
	Parties      []*Party          `json:"parties"`
	Items        []*Item           `json:"items"`
	Transactions []DumpTransaction `json:"transactions"`
	Expenses     []*Expense        `json:"expenses"`
	Opticals     []*Optical        `json:"opticals"`
}

func dumpFromTransaction(tag string, t *Transaction) DumpTransaction {
	return DumpTransaction{
		Type:        tag,
		Id:          t.Id,
		BusinessId:  t.BusinessId,
		PartyId:     t.PartyId,
		PartyName:   t.PartyName,
		Date:        t.Date,
		Lines:       append([]TransactionLine(nil), t.Lines...),
		NoTax:       t.NoTax,
		Subtotal:    t.Subtotal,
		TaxAmount:   t.TaxAmount,
		TotalAmount: t.TotalAmount,
		Notes:       t.Notes,
		CreatedAt:   t.CreatedAt,
	}
}

func dumpFromPayment(p *Payment) DumpTransaction {
	tag := dumpTypePaymentIn
	if p.Type == PaymentTypeOut {
		tag = dumpTypePaymentOut
	}
	return DumpTransaction{
		Type:        tag,
		Id:          p.Id,
		BusinessId:  p.BusinessId,
		PartyId:     p.PartyId,
		PartyName:   p.PartyName,
		Date:        p.Date,
		TotalAmount: p.TotalAmount,
		Mode:        p.Mode,
		Notes:       p.Notes,
		CreatedAt:   p.CreatedAt,
	}
}

func (d DumpTransaction) toTransaction() *Transaction {
	return &Transaction{
		Id:          d.Id,
		BusinessId:  d.BusinessId,
		PartyId:     d.PartyId,
		PartyName:   d.PartyName,
		Date:        d.Date,
		Lines:       append([]TransactionLine(nil), d.Lines...),
		NoTax:       d.NoTax,
		Subtotal:    d.Subtotal,
		TaxAmount:   d.TaxAmount,
		TotalAmount: d.TotalAmount,
		Notes:       d.Notes,
		CreatedAt:   d.CreatedAt,
	}
}

func (d DumpTransaction) toPayment() *Payment {
	t := PaymentTypeIn
	if d.Type == dumpTypePaymentOut {
		t = PaymentTypeOut
	}
	return &Payment{
		Id:          d.Id,
		BusinessId:  d.BusinessId,
		PartyId:     d.PartyId,
		PartyName:   d.PartyName,
		Type:        t,
		Date:        d.Date,
		Mode:        d.Mode,
		TotalAmount: d.TotalAmount,
		Notes:       d.Notes,
		CreatedAt:   d.CreatedAt,
	}
}

// ExportDump flattens every business into the backup shape. Read-only;
// requires a ready controller.
func (c *Controller) ExportDump() (*BackupDump, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authorized {
		return nil, ErrNotAuthorized
	}
	if c.state == StateLoading {
		return nil, ErrBusy
	}

	dump := &BackupDump{
		Businesses:   []BusinessProfile{},
		Parties:      []*Party{},
		Items:        []*Item{},
		Transactions: []DumpTransaction{},
		Expenses:     []*Expense{},
		Opticals:     []*Optical{},
	}
	ids := make([]int, 0, len(c.books))
	for id := range c.books {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		biz := c.books[id]
		dump.Businesses = append(dump.Businesses, BusinessProfile{
			Id:        biz.Id,
			Name:      biz.Name,
			GstNumber: biz.GstNumber,
			Address:   biz.Address,
			Phone:     biz.Phone,
			Email:     biz.Email,
			State:     biz.State,
		})
		for _, p := range biz.Data.Parties {
			dump.Parties = append(dump.Parties, p.clone().(*Party))
		}
		for _, i := range biz.Data.Items {
			dump.Items = append(dump.Items, i.clone().(*Item))
		}
		for _, t := range biz.Data.Sales {
			dump.Transactions = append(dump.Transactions, dumpFromTransaction(dumpTypeSale, t))
		}
		for _, t := range biz.Data.Purchases {
			dump.Transactions = append(dump.Transactions, dumpFromTransaction(dumpTypePurchase, t))
		}
		for _, p := range biz.Data.Payments {
			dump.Transactions = append(dump.Transactions, dumpFromPayment(p))
		}
		for _, e := range biz.Data.Expenses {
			dump.Expenses = append(dump.Expenses, e.clone().(*Expense))
		}
		for _, o := range biz.Data.Opticals {
			dump.Opticals = append(dump.Opticals, o.clone().(*Optical))
		}
	}
	return dump, nil
}

// ImportDump replaces the record collections of every business with the
// dump's contents and persists once. Business profiles present in the
// dump but missing from the map are created; records pointing at an
// unknown businessId are rejected before anything is touched. Settings
// are not part of the backup format and survive the import.
func (c *Controller) ImportDump(ctx context.Context, dump *BackupDump) error {
	if dump == nil {
		return fmt.Errorf("%w: nil dump", ErrValidation)
	}

	c.mu.Lock()
	if !c.authorized {
		c.mu.Unlock()
		return ErrNotAuthorized
	}
	if c.state == StateLoading {
		c.mu.Unlock()
		return ErrBusy
	}

	known := map[int]bool{}
	for id := range c.books {
		known[id] = true
	}
	for _, bp := range dump.Businesses {
		if bp.Id > 0 {
			known[bp.Id] = true
		}
	}
	check := func(businessId int, what string, id int64) error {
		if !known[businessId] {
			return fmt.Errorf("%w: %s %d references unknown business %d",
				ErrValidation, what, id, businessId)
		}
		return nil
	}
	for _, p := range dump.Parties {
		if err := check(p.BusinessId, "party", p.Id); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	for _, i := range dump.Items {
		if err := check(i.BusinessId, "item", i.Id); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	for _, t := range dump.Transactions {
		if err := check(t.BusinessId, "transaction", t.Id); err != nil {
			c.mu.Unlock()
			return err
		}
		switch t.Type {
		case dumpTypeSale, dumpTypePurchase, dumpTypePaymentIn, dumpTypePaymentOut:
		default:
			c.mu.Unlock()
			return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, t.Type)
		}
	}
	for _, e := range dump.Expenses {
		if err := check(e.BusinessId, "expense", e.Id); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	for _, o := range dump.Opticals {
		if err := check(o.BusinessId, "optical", o.Id); err != nil {
			c.mu.Unlock()
			return err
		}
	}

	for _, bp := range dump.Businesses {
		if bp.Id <= 0 {
			continue
		}
		biz, ok := c.books[bp.Id]
		if !ok {
			biz = &Business{Id: bp.Id, Data: NewRecordStore()}
			c.books[bp.Id] = biz
		}
		biz.Name = bp.Name
		biz.GstNumber = bp.GstNumber
		biz.Address = bp.Address
		biz.Phone = bp.Phone
		biz.Email = bp.Email
		biz.State = bp.State
	}

	for _, biz := range c.books {
		biz.Data.Parties = []*Party{}
		biz.Data.Items = []*Item{}
		biz.Data.Sales = []*Transaction{}
		biz.Data.Purchases = []*Transaction{}
		biz.Data.Payments = []*Payment{}
		biz.Data.Expenses = []*Expense{}
		biz.Data.Opticals = []*Optical{}
	}

	for _, p := range dump.Parties {
		c.books[p.BusinessId].Data.Parties = append(c.books[p.BusinessId].Data.Parties, p.clone().(*Party))
	}
	for _, i := range dump.Items {
		c.books[i.BusinessId].Data.Items = append(c.books[i.BusinessId].Data.Items, i.clone().(*Item))
	}
	for _, t := range dump.Transactions {
		rs := c.books[t.BusinessId].Data
		switch t.Type {
		case dumpTypeSale:
			rs.Sales = append(rs.Sales, t.toTransaction())
		case dumpTypePurchase:
			rs.Purchases = append(rs.Purchases, t.toTransaction())
		case dumpTypePaymentIn, dumpTypePaymentOut:
			rs.Payments = append(rs.Payments, t.toPayment())
		}
	}
	for _, e := range dump.Expenses {
		c.books[e.BusinessId].Data.Expenses = append(c.books[e.BusinessId].Data.Expenses, e.clone().(*Expense))
	}
	for _, o := range dump.Opticals {
		c.books[o.BusinessId].Data.Opticals = append(c.books[o.BusinessId].Data.Opticals, o.clone().(*Optical))
	}

	if _, ok := c.books[c.activeId]; !ok {
		c.activeId = c.pickActiveLocked(c.userId)
	}
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}
