package models

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/optics_backend/config"
	"github.com/sirupsen/logrus"
)

type LifecycleState string

const (
	StateUninitialized LifecycleState = "uninitialized"
	StateLoading       LifecycleState = "loading"
	StateReady         LifecycleState = "ready"
)

// Controller owns one user's partition map and is the only component
// allowed to mutate it. Reads serve the in-memory state; every
// mutation updates memory first and then writes the whole map through
// the gateway (optimistic write, no rollback on save failure).
type Controller struct {
	mu     sync.Mutex
	saveMu sync.Mutex

	logger      *logrus.Logger
	gateway     Gateway
	prefs       PreferenceStore
	saveTimeout time.Duration

	userId     string
	authorized bool
	state      LifecycleState
	books      BookSet
	activeId   int

	// loadSeq invalidates in-flight loads on sign-out or re-init.
	loadSeq uint64
	// lastId guards against same-millisecond id collisions in-process.
	lastId int64
}

func NewController(gateway Gateway, prefs PreferenceStore, logger *logrus.Logger) *Controller {
	timeout := 30 * time.Second
	if v := os.Getenv("SAVE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	return &Controller{
		logger:      logger,
		gateway:     gateway,
		prefs:       prefs,
		saveTimeout: timeout,
		state:       StateUninitialized,
		books:       BookSet{},
	}
}

// Initialize reacts to an identity change: it clears all state and, if
// the user is authorized, performs the single fetch attempt. An empty
// remote document gets a default business (id 1). A fetch failure
// leaves the controller ready with empty collections and reports
// ErrPersistence; there is no retry loop.
func (c *Controller) Initialize(ctx context.Context, userId string, authorized bool) error {
	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.userId = userId
	c.authorized = authorized && userId != ""
	c.books = BookSet{}
	c.activeId = 0
	if !c.authorized {
		c.state = StateUninitialized
		c.mu.Unlock()
		return nil
	}
	c.state = StateLoading
	c.mu.Unlock()

	books, loadErr := c.gateway.Load(ctx, userId)

	c.mu.Lock()
	if c.loadSeq != seq {
		// A sign-out or a newer initialize won the race; this result is
		// stale and must not overwrite current state.
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{
			"module": "controller",
			"userId": userId,
		}).Warn("discarding stale load result")
		return nil
	}
	c.state = StateReady
	if loadErr != nil {
		c.books = BookSet{}
		c.mu.Unlock()
		config.LogError(c.logger, "controller.go", "Initialize", "gateway.Load", userId, loadErr)
		return fmt.Errorf("%w: %v", ErrPersistence, loadErr)
	}

	created := false
	if len(books) == 0 {
		books = BookSet{1: {Id: 1, Name: DefaultBusinessName, Data: NewRecordStore()}}
		created = true
	}
	c.books = books
	c.activeId = c.pickActiveLocked(userId)
	var snap BookSet
	if created {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if created {
		return c.persist(ctx, userId, snap)
	}
	return nil
}

// SignOut clears all in-memory state. Any load still in flight is
// invalidated.
func (c *Controller) SignOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadSeq++
	c.userId = ""
	c.authorized = false
	c.state = StateUninitialized
	c.books = BookSet{}
	c.activeId = 0
}

func (c *Controller) pickActiveLocked(userId string) int {
	if c.prefs != nil {
		if id, ok := c.prefs.GetCurrentBusiness(userId); ok {
			if _, exists := c.books[id]; exists {
				return id
			}
		}
	}
	lowest := 0
	for id := range c.books {
		if lowest == 0 || id < lowest {
			lowest = id
		}
	}
	return lowest
}

func (c *Controller) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) ActiveBusinessId() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeId
}

// mutableBusinessLocked gates every mutation: authorization, no load
// in flight, and an existing active business.
func (c *Controller) mutableBusinessLocked() (*Business, error) {
	if !c.authorized {
		return nil, ErrNotAuthorized
	}
	if c.state == StateLoading {
		return nil, ErrBusy
	}
	if c.state != StateReady {
		return nil, ErrNotAuthorized
	}
	biz, ok := c.books[c.activeId]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	return biz, nil
}

// snapshotLocked deep-copies the partition map through its wire shape
// so an in-flight save never observes later mutations.
func (c *Controller) snapshotLocked() BookSet {
	raw, err := json.Marshal(c.books.ToDocument())
	if err != nil {
		config.LogError(c.logger, "controller.go", "snapshotLocked", "Marshal", nil, err)
		return nil
	}
	var doc UserDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		config.LogError(c.logger, "controller.go", "snapshotLocked", "Unmarshal", nil, err)
		return nil
	}
	books, err := doc.ToBookSet()
	if err != nil {
		config.LogError(c.logger, "controller.go", "snapshotLocked", "ToBookSet", nil, err)
		return nil
	}
	return books
}

// persist writes one snapshot. Saves are serialized so whole documents
// reach the gateway in issue order; the in-memory state they were taken
// from is already visible to readers.
func (c *Controller) persist(ctx context.Context, userId string, snap BookSet) error {
	if snap == nil {
		return fmt.Errorf("%w: snapshot failed", ErrPersistence)
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	saveCtx, cancel := context.WithTimeout(ctx, c.saveTimeout)
	defer cancel()
	if err := c.gateway.Save(saveCtx, userId, snap); err != nil {
		config.LogError(c.logger, "controller.go", "persist", "gateway.Save", userId, err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// GetItems returns the active business's collection. Never blocks and
// never errors: with no active business it returns an empty sequence.
func (c *Controller) GetItems(col Collection) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	biz, ok := c.books[c.activeId]
	if !ok {
		return []Record{}
	}
	return biz.Data.records(col)
}

func (c *Controller) GetItem(col Collection, id int64) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getItemLocked(col, id)
}

func (c *Controller) getItemLocked(col Collection, id int64) (Record, error) {
	biz, ok := c.books[c.activeId]
	if !ok {
		return nil, ErrNotFound
	}
	rec, found := biz.Data.find(col, id)
	if !found {
		return nil, ErrNotFound
	}
	return rec, nil
}

// addItemLocked validates, assigns an id if absent and appends to the
// in-memory collection. Assumes c.mu is held; the caller snapshots and
// persists. The ledger protocol composes several of these primitives
// under one lock hold so its multi-record steps are atomic to readers.
func (c *Controller) addItemLocked(col Collection, rec Record) error {
	biz, err := c.mutableBusinessLocked()
	if err != nil {
		return err
	}
	if col != CollectionSettings && rec.GetBusinessId() == 0 {
		rec.SetBusinessId(biz.Id)
	}
	if err := validateRecord(col, rec, biz); err != nil {
		return err
	}
	if rec.GetId() == 0 {
		rec.SetId(c.nextRecordIdLocked(biz.Data, col))
	} else if _, exists := biz.Data.find(col, rec.GetId()); exists {
		return fmt.Errorf("%w: duplicate id %d in %s", ErrValidation, rec.GetId(), col)
	}
	if err := biz.Data.append(col, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *Controller) updateItemLocked(col Collection, id int64, patch Patch) error {
	biz, err := c.mutableBusinessLocked()
	if err != nil {
		return err
	}
	rec, found := biz.Data.find(col, id)
	if !found {
		return ErrNotFound
	}
	updated := rec.clone()
	if err := updated.applyPatch(patch); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := validateRecord(col, updated, biz); err != nil {
		return err
	}
	biz.Data.replace(col, updated)
	return nil
}

// AddItem validates, assigns an id if absent, appends to the in-memory
// collection and persists the whole map. On ErrPersistence the
// in-memory append has already happened.
func (c *Controller) AddItem(ctx context.Context, col Collection, rec Record) error {
	c.mu.Lock()
	if err := c.addItemLocked(col, rec); err != nil {
		c.mu.Unlock()
		return err
	}
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

// UpdateItem applies a typed patch to an existing record. Unknown
// fields and malformed values are rejected; a missing id fails closed.
func (c *Controller) UpdateItem(ctx context.Context, col Collection, id int64, patch Patch) error {
	c.mu.Lock()
	if err := c.updateItemLocked(col, id, patch); err != nil {
		c.mu.Unlock()
		return err
	}
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

// DeleteItem removes by id. Deleting an absent id is a successful
// no-op and does not trigger a save.
func (c *Controller) DeleteItem(ctx context.Context, col Collection, id int64) error {
	c.mu.Lock()
	biz, err := c.mutableBusinessLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !biz.Data.remove(col, id) {
		c.mu.Unlock()
		return nil
	}
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

func (c *Controller) nextRecordIdLocked(rs *RecordStore, col Collection) int64 {
	id := time.Now().UnixMilli()
	if id <= c.lastId {
		id = c.lastId + 1
	}
	for {
		if _, exists := rs.find(col, id); !exists {
			break
		}
		id++
	}
	c.lastId = id
	return id
}

// --- business lifecycle ---

func (c *Controller) Businesses() []*Business {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Business, 0, len(c.books))
	for _, biz := range c.books {
		out = append(out, biz)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func (c *Controller) GetBusiness(id int) (*Business, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	biz, ok := c.books[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	return biz, nil
}

// AddBusiness creates an empty partition with the next integer id and
// persists the whole map.
func (c *Controller) AddBusiness(ctx context.Context, input *NewBusiness) (int, error) {
	c.mu.Lock()
	if !c.authorized {
		c.mu.Unlock()
		return 0, ErrNotAuthorized
	}
	if c.state == StateLoading {
		c.mu.Unlock()
		return 0, ErrBusy
	}
	if err := validate.Struct(input); err != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	biz, err := c.books.MakeBusiness(input)
	if err != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	c.books[biz.Id] = biz
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return biz.Id, c.persist(ctx, userId, snap)
}

func (c *Controller) UpdateBusiness(ctx context.Context, id int, patch Patch) error {
	c.mu.Lock()
	if !c.authorized {
		c.mu.Unlock()
		return ErrNotAuthorized
	}
	if c.state == StateLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	biz, ok := c.books[id]
	if !ok {
		c.mu.Unlock()
		return ErrBusinessNotFound
	}
	// Patch a copy so a rejected update leaves the profile untouched.
	updated := *biz
	if err := updated.applyProfilePatch(patch); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if updated.Name == "" {
		c.mu.Unlock()
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	*biz = updated
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

// DeleteBusiness removes the partition entry. It does not cascade and
// it does not move the active pointer: callers delete dependent
// records first and switch afterwards.
func (c *Controller) DeleteBusiness(ctx context.Context, id int) error {
	c.mu.Lock()
	if !c.authorized {
		c.mu.Unlock()
		return ErrNotAuthorized
	}
	if c.state == StateLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	if _, ok := c.books[id]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.books, id)
	snap := c.snapshotLocked()
	userId := c.userId
	c.mu.Unlock()

	return c.persist(ctx, userId, snap)
}

// SwitchBusiness moves the active pointer. Local preference only, no
// remote I/O. Switching to a nonexistent id yields an empty projection
// rather than an error; a business with credentials set applies its
// soft gate.
func (c *Controller) SwitchBusiness(id int, username, password string) error {
	c.mu.Lock()
	if !c.authorized {
		c.mu.Unlock()
		return ErrNotAuthorized
	}
	if c.state == StateLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	if biz, ok := c.books[id]; ok {
		if !biz.CheckCredentials(username, password) {
			c.mu.Unlock()
			return ErrNotAuthorized
		}
	}
	c.activeId = id
	userId := c.userId
	c.mu.Unlock()

	if c.prefs != nil {
		if err := c.prefs.SetCurrentBusiness(userId, id); err != nil {
			c.logger.WithFields(logrus.Fields{
				"module": "controller",
				"userId": userId,
			}).Warn("failed to store current business preference: " + err.Error())
		}
	}
	return nil
}
