package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/optics_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gateway persists the whole partition map per user. Both calls are
// all-or-nothing: a reader sees either the previous document or the new
// one, never a partial write.
type Gateway interface {
	Load(ctx context.Context, userId string) (BookSet, error)
	Save(ctx context.Context, userId string, books BookSet) error
}

// PreferenceStore keeps session continuity state (the active business
// id) outside the document itself.
type PreferenceStore interface {
	GetCurrentBusiness(userId string) (int, bool)
	SetCurrentBusiness(userId string, id int) error
}

// UserDocumentRow is the storage unit: one MySQL row per user holding
// the JSON document.
type UserDocumentRow struct {
	UserId    string    `gorm:"primaryKey;size:64;column:user_id" json:"user_id"`
	Document  []byte    `gorm:"type:json" json:"document"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserDocumentRow) TableName() string { return "user_documents" }

func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		return
	}
	if err := db.AutoMigrate(&UserDocumentRow{}); err != nil {
		config.LogError(config.GetLogger(), "gateway.go", "MigrateTable", "AutoMigrate", nil, err)
	}
}

type MySQLGateway struct {
	db *gorm.DB
}

// NewMySQLGateway accepts a nil handle: the connection is resolved per
// call then, which lets the gateway be wired before the retry loop in
// main has finished connecting.
func NewMySQLGateway(db *gorm.DB) *MySQLGateway {
	return &MySQLGateway{db: db}
}

func (g *MySQLGateway) conn() (*gorm.DB, error) {
	if g.db != nil {
		return g.db, nil
	}
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not connected")
	}
	return db, nil
}

func (g *MySQLGateway) Load(ctx context.Context, userId string) (BookSet, error) {
	db, err := g.conn()
	if err != nil {
		return nil, err
	}
	var row UserDocumentRow
	err = db.WithContext(ctx).Where("user_id = ?", userId).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BookSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document for %s: %w", userId, err)
	}
	var doc UserDocument
	if err := json.Unmarshal(row.Document, &doc); err != nil {
		return nil, fmt.Errorf("decode document for %s: %w", userId, err)
	}
	return doc.ToBookSet()
}

func (g *MySQLGateway) Save(ctx context.Context, userId string, books BookSet) error {
	db, err := g.conn()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(books.ToDocument())
	if err != nil {
		return fmt.Errorf("encode document for %s: %w", userId, err)
	}
	row := UserDocumentRow{UserId: userId, Document: raw}
	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save document for %s: %w", userId, err)
	}
	return nil
}

// RedisPreferenceStore keeps the active business id per user in redis.
type RedisPreferenceStore struct{}

func (RedisPreferenceStore) GetCurrentBusiness(userId string) (int, bool) {
	val, exists, err := config.GetRedisValue("CurrentBusiness:" + userId)
	if err != nil || !exists {
		return 0, false
	}
	id, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (RedisPreferenceStore) SetCurrentBusiness(userId string, id int) error {
	return config.SetRedisValue("CurrentBusiness:"+userId, strconv.Itoa(id), 0)
}
