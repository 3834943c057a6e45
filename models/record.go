package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Collection names match the keys of the persisted per-business document.
type Collection string

const (
	CollectionParties   Collection = "parties"
	CollectionItems     Collection = "items"
	CollectionSales     Collection = "sales"
	CollectionPurchases Collection = "purchases"
	CollectionExpenses  Collection = "expenses"
	CollectionOpticals  Collection = "opticals"
	CollectionPayments  Collection = "payments"
	CollectionSettings  Collection = "settings"
)

var AllCollections = []Collection{
	CollectionParties,
	CollectionItems,
	CollectionSales,
	CollectionPurchases,
	CollectionExpenses,
	CollectionOpticals,
	CollectionPayments,
	CollectionSettings,
}

type PartyType string

const (
	PartyTypeCustomer PartyType = "Customer"
	PartyTypeVendor   PartyType = "Vendor"
)

type PaymentType string

const (
	PaymentTypeIn  PaymentType = "In"
	PaymentTypeOut PaymentType = "Out"
)

// Patch is a partial update over a known record schema.
// Unknown fields are rejected instead of silently merged.
type Patch map[string]any

// Record is the common surface of every row in a RecordStore.
// clone/applyPatch stay package-private: all mutation goes through the
// Controller, other packages only read.
type Record interface {
	GetId() int64
	SetId(id int64)
	GetBusinessId() int
	SetBusinessId(id int)
	clone() Record
	applyPatch(p Patch) error
}

type Party struct {
	Id             int64           `json:"id"`
	BusinessId     int             `json:"businessId"`
	Name           string          `json:"name" validate:"required"`
	Type           PartyType       `json:"type" validate:"required,oneof=Customer Vendor"`
	Phone          string          `json:"phone,omitempty"`
	Email          string          `json:"email,omitempty"`
	Address        string          `json:"address,omitempty"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Balance        decimal.Decimal `json:"balance"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type Item struct {
	Id            int64           `json:"id"`
	BusinessId    int             `json:"businessId"`
	Name          string          `json:"name" validate:"required"`
	Category      string          `json:"category,omitempty"`
	Unit          string          `json:"unit,omitempty"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	SalePrice     decimal.Decimal `json:"salePrice"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	OpeningStock  decimal.Decimal `json:"openingStock"`
	Stock         decimal.Decimal `json:"stock"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type TransactionLine struct {
	ItemId  int64           `json:"itemId"`
	Name    string          `json:"name,omitempty"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	TaxRate decimal.Decimal `json:"taxRate"`
	Total   decimal.Decimal `json:"total"`
}

// Transaction is a sale or a purchase; which one is decided by the
// collection it lives in, not by a type string on the record.
type Transaction struct {
	Id          int64             `json:"id"`
	BusinessId  int               `json:"businessId"`
	PartyId     int64             `json:"partyId"`
	PartyName   string            `json:"partyName,omitempty"`
	Date        string            `json:"date,omitempty"`
	Lines       []TransactionLine `json:"items"`
	NoTax       bool              `json:"noTax"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
	TaxAmount   decimal.Decimal   `json:"taxAmount"`
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	Notes       string            `json:"notes,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

type Payment struct {
	Id          int64           `json:"id"`
	BusinessId  int             `json:"businessId"`
	PartyId     int64           `json:"partyId"`
	PartyName   string          `json:"partyName,omitempty"`
	Type        PaymentType     `json:"type" validate:"required,oneof=In Out"`
	Date        string          `json:"date,omitempty"`
	Mode        string          `json:"mode,omitempty"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type Expense struct {
	Id         int64           `json:"id"`
	BusinessId int             `json:"businessId"`
	Date       string          `json:"date" validate:"required"`
	Category   string          `json:"category" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Optical holds an eyewear prescription attached to a party.
type Optical struct {
	Id         int64     `json:"id"`
	BusinessId int       `json:"businessId"`
	PartyId    int64     `json:"partyId"`
	Date       string    `json:"date,omitempty"`
	RightSph   string    `json:"rightSph,omitempty"`
	RightCyl   string    `json:"rightCyl,omitempty"`
	RightAxis  string    `json:"rightAxis,omitempty"`
	RightAdd   string    `json:"rightAdd,omitempty"`
	LeftSph    string    `json:"leftSph,omitempty"`
	LeftCyl    string    `json:"leftCyl,omitempty"`
	LeftAxis   string    `json:"leftAxis,omitempty"`
	LeftAdd    string    `json:"leftAdd,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Setting struct {
	Id         int64  `json:"id"`
	BusinessId int    `json:"businessId,omitempty"`
	Key        string `json:"key"`
	Value      string `json:"value"`
}

// RecordStore is the set of collections owned by exactly one business.
type RecordStore struct {
	Parties   []*Party       `json:"parties"`
	Items     []*Item        `json:"items"`
	Sales     []*Transaction `json:"sales"`
	Purchases []*Transaction `json:"purchases"`
	Expenses  []*Expense     `json:"expenses"`
	Opticals  []*Optical     `json:"opticals"`
	Payments  []*Payment     `json:"payments"`
	Settings  []*Setting     `json:"settings"`
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		Parties:   []*Party{},
		Items:     []*Item{},
		Sales:     []*Transaction{},
		Purchases: []*Transaction{},
		Expenses:  []*Expense{},
		Opticals:  []*Optical{},
		Payments:  []*Payment{},
		Settings:  []*Setting{},
	}
}

// NewRecord returns an empty record of the right type for a collection,
// ready to be filled from JSON.
func NewRecord(c Collection) (Record, error) {
	switch c {
	case CollectionParties:
		return &Party{}, nil
	case CollectionItems:
		return &Item{}, nil
	case CollectionSales, CollectionPurchases:
		return &Transaction{}, nil
	case CollectionExpenses:
		return &Expense{}, nil
	case CollectionOpticals:
		return &Optical{}, nil
	case CollectionPayments:
		return &Payment{}, nil
	case CollectionSettings:
		return &Setting{}, nil
	}
	return nil, fmt.Errorf("unknown collection %q", c)
}

func (rs *RecordStore) records(c Collection) []Record {
	switch c {
	case CollectionParties:
		out := make([]Record, len(rs.Parties))
		for i, r := range rs.Parties {
			out[i] = r
		}
		return out
	case CollectionItems:
		out := make([]Record, len(rs.Items))
		for i, r := range rs.Items {
			out[i] = r
		}
		return out
	case CollectionSales:
		out := make([]Record, len(rs.Sales))
		for i, r := range rs.Sales {
			out[i] = r
		}
		return out
	case CollectionPurchases:
		out := make([]Record, len(rs.Purchases))
		for i, r := range rs.Purchases {
			out[i] = r
		}
		return out
	case CollectionExpenses:
		out := make([]Record, len(rs.Expenses))
		for i, r := range rs.Expenses {
			out[i] = r
		}
		return out
	case CollectionOpticals:
		out := make([]Record, len(rs.Opticals))
		for i, r := range rs.Opticals {
			out[i] = r
		}
		return out
	case CollectionPayments:
		out := make([]Record, len(rs.Payments))
		for i, r := range rs.Payments {
			out[i] = r
		}
		return out
	case CollectionSettings:
		out := make([]Record, len(rs.Settings))
		for i, r := range rs.Settings {
			out[i] = r
		}
		return out
	}
	return nil
}

func (rs *RecordStore) find(c Collection, id int64) (Record, bool) {
	for _, r := range rs.records(c) {
		if r.GetId() == id {
			return r, true
		}
	}
	return nil, false
}

func (rs *RecordStore) append(c Collection, rec Record) error {
	switch c {
	case CollectionParties:
		r, ok := rec.(*Party)
		if !ok {
			return fmt.Errorf("expected *Party for %s, got %T", c, rec)
		}
		rs.Parties = append(rs.Parties, r)
	case CollectionItems:
		r, ok := rec.(*Item)
		if !ok {
			return fmt.Errorf("expected *Item for %s, got %T", c, rec)
		}
		rs.Items = append(rs.Items, r)
	case CollectionSales:
		r, ok := rec.(*Transaction)
		if !ok {
			return fmt.Errorf("expected *Transaction for %s, got %T", c, rec)
		}
		rs.Sales = append(rs.Sales, r)
	case CollectionPurchases:
		r, ok := rec.(*Transaction)
		if !ok {
			return fmt.Errorf("expected *Transaction for %s, got %T", c, rec)
		}
		rs.Purchases = append(rs.Purchases, r)
	case CollectionExpenses:
		r, ok := rec.(*Expense)
		if !ok {
			return fmt.Errorf("expected *Expense for %s, got %T", c, rec)
		}
		rs.Expenses = append(rs.Expenses, r)
	case CollectionOpticals:
		r, ok := rec.(*Optical)
		if !ok {
			return fmt.Errorf("expected *Optical for %s, got %T", c, rec)
		}
		rs.Opticals = append(rs.Opticals, r)
	case CollectionPayments:
		r, ok := rec.(*Payment)
		if !ok {
			return fmt.Errorf("expected *Payment for %s, got %T", c, rec)
		}
		rs.Payments = append(rs.Payments, r)
	case CollectionSettings:
		r, ok := rec.(*Setting)
		if !ok {
			return fmt.Errorf("expected *Setting for %s, got %T", c, rec)
		}
		rs.Settings = append(rs.Settings, r)
	default:
		return fmt.Errorf("unknown collection %q", c)
	}
	return nil
}

func (rs *RecordStore) replace(c Collection, rec Record) bool {
	switch c {
	case CollectionParties:
		for i, r := range rs.Parties {
			if r.Id == rec.GetId() {
				rs.Parties[i] = rec.(*Party)
				return true
			}
		}
	case CollectionItems:
		for i, r := range rs.Items {
			if r.Id == rec.GetId() {
				rs.Items[i] = rec.(*Item)
				return true
			}
		}
	case CollectionSales:
		for i, r := range rs.Sales {
			if r.Id == rec.GetId() {
				rs.Sales[i] = rec.(*Transaction)
				return true
			}
		}
	case CollectionPurchases:
		for i, r := range rs.Purchases {
			if r.Id == rec.GetId() {
				rs.Purchases[i] = rec.(*Transaction)
				return true
			}
		}
	case CollectionExpenses:
		for i, r := range rs.Expenses {
			if r.Id == rec.GetId() {
				rs.Expenses[i] = rec.(*Expense)
				return true
			}
		}
	case CollectionOpticals:
		for i, r := range rs.Opticals {
			if r.Id == rec.GetId() {
				rs.Opticals[i] = rec.(*Optical)
				return true
			}
		}
	case CollectionPayments:
		for i, r := range rs.Payments {
			if r.Id == rec.GetId() {
				rs.Payments[i] = rec.(*Payment)
				return true
			}
		}
	case CollectionSettings:
		for i, r := range rs.Settings {
			if r.Id == rec.GetId() {
				rs.Settings[i] = rec.(*Setting)
				return true
			}
		}
	}
	return false
}

func (rs *RecordStore) remove(c Collection, id int64) bool {
	switch c {
	case CollectionParties:
		for i, r := range rs.Parties {
			if r.Id == id {
				rs.Parties = append(rs.Parties[:i], rs.Parties[i+1:]...)
				return true
			}
		}
	case CollectionItems:
		for i, r := range rs.Items {
			if r.Id == id {
				rs.Items = append(rs.Items[:i], rs.Items[i+1:]...)
				return true
			}
		}
	case CollectionSales:
		for i, r := range rs.Sales {
			if r.Id == id {
				rs.Sales = append(rs.Sales[:i], rs.Sales[i+1:]...)
				return true
			}
		}
	case CollectionPurchases:
		for i, r := range rs.Purchases {
			if r.Id == id {
				rs.Purchases = append(rs.Purchases[:i], rs.Purchases[i+1:]...)
				return true
			}
		}
	case CollectionExpenses:
		for i, r := range rs.Expenses {
			if r.Id == id {
				rs.Expenses = append(rs.Expenses[:i], rs.Expenses[i+1:]...)
				return true
			}
		}
	case CollectionOpticals:
		for i, r := range rs.Opticals {
			if r.Id == id {
				rs.Opticals = append(rs.Opticals[:i], rs.Opticals[i+1:]...)
				return true
			}
		}
	case CollectionPayments:
		for i, r := range rs.Payments {
			if r.Id == id {
				rs.Payments = append(rs.Payments[:i], rs.Payments[i+1:]...)
				return true
			}
		}
	case CollectionSettings:
		for i, r := range rs.Settings {
			if r.Id == id {
				rs.Settings = append(rs.Settings[:i], rs.Settings[i+1:]...)
				return true
			}
		}
	}
	return false
}

// maxId returns the largest record id currently present in a collection.
func (rs *RecordStore) maxId(c Collection) int64 {
	var max int64
	for _, r := range rs.records(c) {
		if r.GetId() > max {
			max = r.GetId()
		}
	}
	return max
}

// --- Record interface implementations ---

func (p *Party) GetId() int64        { return p.Id }
func (p *Party) SetId(id int64)      { p.Id = id }
func (p *Party) GetBusinessId() int  { return p.BusinessId }
func (p *Party) SetBusinessId(id int) { p.BusinessId = id }
func (p *Party) clone() Record        { c := *p; return &c }

func (i *Item) GetId() int64       { return i.Id }
func (i *Item) SetId(id int64)     { i.Id = id }
func (i *Item) GetBusinessId() int { return i.BusinessId }
func (i *Item) SetBusinessId(id int) { i.BusinessId = id }
func (i *Item) clone() Record        { c := *i; return &c }

func (t *Transaction) GetId() int64       { return t.Id }
func (t *Transaction) SetId(id int64)     { t.Id = id }
func (t *Transaction) GetBusinessId() int     { return t.BusinessId }
func (t *Transaction) SetBusinessId(id int)   { t.BusinessId = id }
func (t *Transaction) clone() Record {
	c := *t
	c.Lines = append([]TransactionLine(nil), t.Lines...)
	return &c
}

func (p *Payment) GetId() int64       { return p.Id }
func (p *Payment) SetId(id int64)     { p.Id = id }
func (p *Payment) GetBusinessId() int { return p.BusinessId }
func (p *Payment) SetBusinessId(id int) { p.BusinessId = id }
func (p *Payment) clone() Record        { c := *p; return &c }

func (e *Expense) GetId() int64       { return e.Id }
func (e *Expense) SetId(id int64)     { e.Id = id }
func (e *Expense) GetBusinessId() int { return e.BusinessId }
func (e *Expense) SetBusinessId(id int) { e.BusinessId = id }
func (e *Expense) clone() Record        { c := *e; return &c }

func (o *Optical) GetId() int64       { return o.Id }
func (o *Optical) SetId(id int64)     { o.Id = id }
func (o *Optical) GetBusinessId() int { return o.BusinessId }
func (o *Optical) SetBusinessId(id int) { o.BusinessId = id }
func (o *Optical) clone() Record        { c := *o; return &c }

func (s *Setting) GetId() int64       { return s.Id }
func (s *Setting) SetId(id int64)     { s.Id = id }
func (s *Setting) GetBusinessId() int { return s.BusinessId }
func (s *Setting) SetBusinessId(id int) { s.BusinessId = id }
func (s *Setting) clone() Record        { c := *s; return &c }

// --- patch application ---

func patchString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func patchBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func patchInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case json.Number:
		return t.Int64()
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func patchDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		return decimal.NewFromString(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case json.Number:
		return decimal.NewFromString(t.String())
	}
	return decimal.Zero, fmt.Errorf("expected number, got %T", v)
}

func patchLines(v any) ([]TransactionLine, error) {
	if lines, ok := v.([]TransactionLine); ok {
		return append([]TransactionLine(nil), lines...), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var lines []TransactionLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (p *Party) applyPatch(patch Patch) error {
	for k, v := range patch {
		var err error
		switch k {
		case "name":
			p.Name, err = patchString(v)
		case "type":
			var s string
			s, err = patchString(v)
			p.Type = PartyType(s)
		case "phone":
			p.Phone, err = patchString(v)
		case "email":
			p.Email, err = patchString(v)
		case "address":
			p.Address, err = patchString(v)
		case "openingBalance":
			p.OpeningBalance, err = patchDecimal(v)
		case "balance":
			p.Balance, err = patchDecimal(v)
		default:
			return fmt.Errorf("unknown field %q for parties", k)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func (i *Item) applyPatch(patch Patch) error {
	for k, v := range patch {
		var err error
		switch k {
		case "name":
			i.Name, err = patchString(v)
		case "category":
			i.Category, err = patchString(v)
		case "unit":
			i.Unit, err = patchString(v)
		case "purchasePrice":
			i.PurchasePrice, err = patchDecimal(v)
		case "salePrice":
			i.SalePrice, err = patchDecimal(v)
		case "taxRate":
			i.TaxRate, err = patchDecimal(v)
		case "openingStock":
			i.OpeningStock, err = patchDecimal(v)
		case "stock":
			i.Stock, err = patchDecimal(v)
		default:
			return fmt.Errorf("unknown field %q for items", k)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func (t *Transaction) applyPatch(patch Patch) error {
	for k, v := range patch {
		var err error
		switch k {
		case "partyId":
			t.PartyId, err = patchInt64(v)
		case "partyName":
			t.PartyName, err = patchString(v)
		case "date":
			t.Date, err = patchString(v)
		case "items":
			t.Lines, err = patchLines(v)
		case "noTax":
			t.NoTax, err = patchBool(v)
		case "subtotal":
			t.Subtotal, err = patchDecimal(v)
		case "taxAmount":
			t.TaxAmount, err = patchDecimal(v)
		case "totalAmount":
			t.TotalAmount, err = patchDecimal(v)
		case "notes":
			t.Notes, err = patchString(v)
		default:
			return fmt.Errorf("unknown field %q for transactions", k)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func (p *Payment) applyPatch(patch Patch) error {
	for k, v := range patch {
		var err error
		switch k {
		case "partyId":
			p.PartyId, err = patchInt64(v)
		case "partyName":
			p.PartyName, err = patchString(v)
		case "type":
			var s string
			s, err = patchString(v)
			p.Type = PaymentType(s)
		case "date":
			p.Date, err = patchString(v)
		case "mode":
			p.Mode, err = patchString(v)
		case "totalAmount":
			p.TotalAmount, err = patchDecimal(v)
		case "notes":
			p.Notes, err = patchString(v)
		default:
			return fmt.Errorf("unknown field %q for payments", k)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func (e *Expense) applyPatch(patch Patch) error {
	for k, v := range patch {
		var err error
		switch k {
		case "date":
			e.Date, err = patchString(v)
		case "category":
			e.Category, err = patchString(v)
		case "amount":
			e.Amount, err = patchDecimal(v)
		case "notes":
			e.Notes, err = patchString(v)
		default:
			return fmt.Errorf("unknown field %q for expenses", k)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func (o *Optical) applyPatch(patch Patch) error {
	for k, v := range patch {
		var err error
		switch k {
		case "partyId":
			o.PartyId, err = patchInt64(v)
		case "date":
			o.Date, err = patchString(v)
		case "rightSph":
			o.RightSph, err = patchString(v)
		case "rightCyl":
			o.RightCyl, err = patchString(v)
		case "rightAxis":
			o.RightAxis, err = patchString(v)
		case "rightAdd":
			o.RightAdd, err = patchString(v)
		case "leftSph":
			o.LeftSph, err = patchString(v)
		case "leftCyl":
			o.LeftCyl, err = patchString(v)
		case "leftAxis":
			o.LeftAxis, err = patchString(v)
		case "leftAdd":
			o.LeftAdd, err = patchString(v)
		case "notes":
			o.Notes, err = patchString(v)
		default:
			return fmt.Errorf("unknown field %q for opticals", k)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func (s *Setting) applyPatch(patch Patch) error {
	for k, v := range patch {
		var err error
		switch k {
		case "key":
			s.Key, err = patchString(v)
		case "value":
			s.Value, err = patchString(v)
		default:
			return fmt.Errorf("unknown field %q for settings", k)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}
