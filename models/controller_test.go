package models_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/optics_backend/config"
	"bitbucket.org/mmdatafocus/optics_backend/models"
	"github.com/shopspring/decimal"
)

// fakeGateway keeps documents in memory through a JSON round trip so a
// stored document never aliases live controller state.
type fakeGateway struct {
	mu      sync.Mutex
	docs    map[string][]byte
	loadErr error
	saveErr error
	saves   int

	// When set, Load blocks until the channel is closed.
	loadGate chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{docs: map[string][]byte{}}
}

func (g *fakeGateway) Load(ctx context.Context, userId string) (models.BookSet, error) {
	if g.loadGate != nil {
		<-g.loadGate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loadErr != nil {
		return nil, g.loadErr
	}
	raw, ok := g.docs[userId]
	if !ok {
		return models.BookSet{}, nil
	}
	var doc models.UserDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.ToBookSet()
}

func (g *fakeGateway) Save(ctx context.Context, userId string, books models.BookSet) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saves++
	if g.saveErr != nil {
		return g.saveErr
	}
	raw, err := json.Marshal(books.ToDocument())
	if err != nil {
		return err
	}
	g.docs[userId] = raw
	return nil
}

func (g *fakeGateway) saveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saves
}

type fakePrefs struct {
	mu      sync.Mutex
	current map[string]int
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{current: map[string]int{}}
}

func (p *fakePrefs) GetCurrentBusiness(userId string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.current[userId]
	return id, ok
}

func (p *fakePrefs) SetCurrentBusiness(userId string, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current[userId] = id
	return nil
}

func newTestController(t *testing.T, gw models.Gateway) *models.Controller {
	t.Helper()
	ctrl := models.NewController(gw, newFakePrefs(), config.GetLogger())
	if err := ctrl.Initialize(context.Background(), "user-1", true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return ctrl
}

func addParty(t *testing.T, ctrl *models.Controller, name string) *models.Party {
	t.Helper()
	p := &models.Party{Name: name, Type: models.PartyTypeCustomer}
	if err := ctrl.AddItem(context.Background(), models.CollectionParties, p); err != nil {
		t.Fatalf("add party %s: %v", name, err)
	}
	return p
}

func addItemWithStock(t *testing.T, ctrl *models.Controller, name string, stock int64) *models.Item {
	t.Helper()
	i := &models.Item{
		Name:         name,
		OpeningStock: decimal.NewFromInt(stock),
		Stock:        decimal.NewFromInt(stock),
	}
	if err := ctrl.AddItem(context.Background(), models.CollectionItems, i); err != nil {
		t.Fatalf("add item %s: %v", name, err)
	}
	return i
}

func wantDecimal(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	w, err := decimal.NewFromString(want)
	if err != nil {
		t.Fatalf("bad want %q: %v", want, err)
	}
	if !got.Equal(w) {
		t.Fatalf("got %s, want %s", got.String(), want)
	}
}

func TestInitializeCreatesDefaultBusiness(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)

	if got := ctrl.State(); got != models.StateReady {
		t.Fatalf("state = %s, want %s", got, models.StateReady)
	}
	businesses := ctrl.Businesses()
	if len(businesses) != 1 {
		t.Fatalf("businesses = %d, want 1", len(businesses))
	}
	if businesses[0].Id != 1 || businesses[0].Name != models.DefaultBusinessName {
		t.Fatalf("default business = %+v", businesses[0])
	}
	if ctrl.ActiveBusinessId() != 1 {
		t.Fatalf("activeId = %d, want 1", ctrl.ActiveBusinessId())
	}
	// The default business must be persisted, not just held in memory.
	if gw.saveCount() != 1 {
		t.Fatalf("saves = %d, want 1", gw.saveCount())
	}
}

func TestInitializeLoadFailureIsReadyEmpty(t *testing.T) {
	gw := newFakeGateway()
	gw.loadErr = errors.New("connection refused")
	ctrl := models.NewController(gw, newFakePrefs(), config.GetLogger())

	err := ctrl.Initialize(context.Background(), "user-1", true)
	if !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("Initialize err = %v, want ErrPersistence", err)
	}
	if got := ctrl.State(); got != models.StateReady {
		t.Fatalf("state = %s, want %s", got, models.StateReady)
	}
	if n := len(ctrl.Businesses()); n != 0 {
		t.Fatalf("businesses = %d, want 0", n)
	}
	if n := len(ctrl.GetItems(models.CollectionParties)); n != 0 {
		t.Fatalf("parties = %d, want 0", n)
	}
}

func TestInitializeUnauthorized(t *testing.T) {
	gw := newFakeGateway()
	ctrl := models.NewController(gw, newFakePrefs(), config.GetLogger())
	if err := ctrl.Initialize(context.Background(), "", false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := ctrl.State(); got != models.StateUninitialized {
		t.Fatalf("state = %s, want %s", got, models.StateUninitialized)
	}
	err := ctrl.AddItem(context.Background(), models.CollectionParties, &models.Party{Name: "x", Type: models.PartyTypeCustomer})
	if !errors.Is(err, models.ErrNotAuthorized) {
		t.Fatalf("AddItem err = %v, want ErrNotAuthorized", err)
	}
}

func TestSignOutDiscardsInFlightLoad(t *testing.T) {
	gw := newFakeGateway()
	gw.loadGate = make(chan struct{})
	ctrl := models.NewController(gw, newFakePrefs(), config.GetLogger())

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Initialize(context.Background(), "user-1", true)
	}()
	// Sign out while the load is still blocked, then let it finish.
	ctrl.SignOut()
	close(gw.loadGate)
	if err := <-done; err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// The stale result must not resurrect state after sign-out.
	if got := ctrl.State(); got != models.StateUninitialized {
		t.Fatalf("state = %s, want %s", got, models.StateUninitialized)
	}
	if n := len(ctrl.Businesses()); n != 0 {
		t.Fatalf("businesses = %d, want 0", n)
	}
}

func TestAddItemAssignsIdAndPersists(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)

	p := addParty(t, ctrl, "Aung Aung")
	if p.Id == 0 {
		t.Fatal("expected an assigned id")
	}
	if p.BusinessId != 1 {
		t.Fatalf("businessId = %d, want 1", p.BusinessId)
	}

	// A fresh controller over the same gateway must see the record.
	ctrl2 := newTestController(t, gw)
	rec, err := ctrl2.GetItem(models.CollectionParties, p.Id)
	if err != nil {
		t.Fatalf("GetItem after reload: %v", err)
	}
	if rec.(*models.Party).Name != "Aung Aung" {
		t.Fatalf("reloaded party = %+v", rec)
	}
}

func TestAddItemValidationLeavesStoreUntouched(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	saves := gw.saveCount()

	// Sale without a party and without lines must be rejected.
	bad := &models.Transaction{}
	err := ctrl.AddItem(context.Background(), models.CollectionSales, bad)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if n := len(ctrl.GetItems(models.CollectionSales)); n != 0 {
		t.Fatalf("sales = %d, want 0", n)
	}
	if gw.saveCount() != saves {
		t.Fatalf("saves changed on rejected add: %d -> %d", saves, gw.saveCount())
	}
}

func TestUpdateItemRejectsUnknownField(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	p := addParty(t, ctrl, "Su Su")

	err := ctrl.UpdateItem(context.Background(), models.CollectionParties, p.Id, models.Patch{"nickname": "su"})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	rec, err := ctrl.GetItem(models.CollectionParties, p.Id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if rec.(*models.Party).Name != "Su Su" {
		t.Fatalf("record changed after rejected patch: %+v", rec)
	}
}

func TestUpdateMissingIdFailsClosed(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)

	err := ctrl.UpdateItem(context.Background(), models.CollectionParties, 999, models.Patch{"name": "x"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteItemIdempotent(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	p := addParty(t, ctrl, "Mya Mya")

	if err := ctrl.DeleteItem(context.Background(), models.CollectionParties, p.Id); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	saves := gw.saveCount()
	// Second delete of the same id: success, and no extra save.
	if err := ctrl.DeleteItem(context.Background(), models.CollectionParties, p.Id); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if gw.saveCount() != saves {
		t.Fatalf("idempotent delete triggered a save: %d -> %d", saves, gw.saveCount())
	}
}

func TestPersistenceFailureKeepsOptimisticState(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	gw.saveErr = errors.New("disk full")

	p := &models.Party{Name: "Kyaw Kyaw", Type: models.PartyTypeVendor}
	err := ctrl.AddItem(context.Background(), models.CollectionParties, p)
	if !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	// The in-memory append happened before the failed save and stays.
	if _, err := ctrl.GetItem(models.CollectionParties, p.Id); err != nil {
		t.Fatalf("record missing after failed save: %v", err)
	}
}

func TestBusinessLifecycleAndSwitchIsolation(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)

	id2, err := ctrl.AddBusiness(context.Background(), &models.NewBusiness{Name: "Branch Two"})
	if err != nil {
		t.Fatalf("AddBusiness: %v", err)
	}
	if id2 != 2 {
		t.Fatalf("new business id = %d, want 2", id2)
	}

	p := addParty(t, ctrl, "Only In One")
	if err := ctrl.SwitchBusiness(id2, "", ""); err != nil {
		t.Fatalf("SwitchBusiness: %v", err)
	}
	if n := len(ctrl.GetItems(models.CollectionParties)); n != 0 {
		t.Fatalf("parties in business 2 = %d, want 0", n)
	}
	if _, err := ctrl.GetItem(models.CollectionParties, p.Id); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("cross-business read err = %v, want ErrNotFound", err)
	}

	if err := ctrl.SwitchBusiness(1, "", ""); err != nil {
		t.Fatalf("switch back: %v", err)
	}
	if n := len(ctrl.GetItems(models.CollectionParties)); n != 1 {
		t.Fatalf("parties in business 1 = %d, want 1", n)
	}
}

func TestSwitchToMissingBusinessGivesEmptyProjection(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)
	addParty(t, ctrl, "Someone")

	if err := ctrl.SwitchBusiness(42, "", ""); err != nil {
		t.Fatalf("SwitchBusiness: %v", err)
	}
	if n := len(ctrl.GetItems(models.CollectionParties)); n != 0 {
		t.Fatalf("parties = %d, want empty projection", n)
	}
	// Mutations against the missing partition must fail.
	err := ctrl.AddItem(context.Background(), models.CollectionParties, &models.Party{Name: "x", Type: models.PartyTypeCustomer})
	if !errors.Is(err, models.ErrBusinessNotFound) {
		t.Fatalf("err = %v, want ErrBusinessNotFound", err)
	}
}

func TestSwitchBusinessCredentialGate(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)

	id2, err := ctrl.AddBusiness(context.Background(), &models.NewBusiness{
		Name:     "Locked",
		Username: "owner",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("AddBusiness: %v", err)
	}

	if err := ctrl.SwitchBusiness(id2, "owner", "wrong"); !errors.Is(err, models.ErrNotAuthorized) {
		t.Fatalf("wrong password err = %v, want ErrNotAuthorized", err)
	}
	if ctrl.ActiveBusinessId() != 1 {
		t.Fatalf("active moved on rejected switch: %d", ctrl.ActiveBusinessId())
	}
	if err := ctrl.SwitchBusiness(id2, "owner", "secret"); err != nil {
		t.Fatalf("correct credentials: %v", err)
	}
	if ctrl.ActiveBusinessId() != id2 {
		t.Fatalf("activeId = %d, want %d", ctrl.ActiveBusinessId(), id2)
	}
}

func TestDeleteBusinessNoCascade(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)

	id2, err := ctrl.AddBusiness(context.Background(), &models.NewBusiness{Name: "Short Lived"})
	if err != nil {
		t.Fatalf("AddBusiness: %v", err)
	}
	if err := ctrl.DeleteBusiness(context.Background(), id2); err != nil {
		t.Fatalf("DeleteBusiness: %v", err)
	}
	// Idempotent: deleting again succeeds quietly.
	if err := ctrl.DeleteBusiness(context.Background(), id2); err != nil {
		t.Fatalf("second DeleteBusiness: %v", err)
	}
	if n := len(ctrl.Businesses()); n != 1 {
		t.Fatalf("businesses = %d, want 1", n)
	}
}

func TestUpdateBusinessRejectsEmptyName(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw)

	err := ctrl.UpdateBusiness(context.Background(), 1, models.Patch{"name": ""})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	biz, err := ctrl.GetBusiness(1)
	if err != nil {
		t.Fatalf("GetBusiness: %v", err)
	}
	if biz.Name != models.DefaultBusinessName {
		t.Fatalf("name = %q after rejected patch", biz.Name)
	}
}
