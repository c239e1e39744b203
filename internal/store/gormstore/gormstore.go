// Package gormstore implements tokens.Store on a relational database via
// GORM. It preserves the exact accounting rules of the in-memory store;
// PostgreSQL and SQLite are supported.
package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/densematrix/voicemargin/pkg/tokens"
)

const (
	defaultEventPayload   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectEvent     = "event"
	errorCodeCreate       = "create"
	errorCodeDelete       = "delete"
	errorCodeLookup       = "lookup"
	errorCodeSave         = "save"
)

// Store implements tokens.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Intended for SQLite and tests; production
// PostgreSQL schemas are managed externally.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(&TokenAccount{}, &PaymentEvent{})
}

// WithTx executes fn within a database transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore tokens.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetOrCreate loads the row for deviceID under a row lock, inserting a fresh
// zero-counter row on first sight. A lost insert race falls back to re-reading
// the winner's row.
func (store *Store) GetOrCreate(ctx context.Context, deviceID string, freeQuota int64, nowUnixUTC int64) (tokens.Entry, error) {
	var model TokenAccount
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("device_id = ?", deviceID).
		Take(&model).Error
	if err == nil {
		return mapEntry(model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return tokens.Entry{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}

	model = TokenAccount{
		DeviceID:  deviceID,
		FreeQuota: freeQuota,
		CreatedAt: time.Unix(nowUnixUTC, 0).UTC(),
	}
	createErr := store.db.WithContext(ctx).Create(&model).Error
	if createErr == nil {
		return mapEntry(model), nil
	}
	if !isUniqueViolation(createErr) {
		return tokens.Entry{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, createErr)
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("device_id = ?", deviceID).
		Take(&model).Error
	if err != nil {
		return tokens.Entry{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return mapEntry(model), nil
}

// Save persists all counter fields of the entry.
func (store *Store) Save(ctx context.Context, entry tokens.Entry) error {
	updates := map[string]interface{}{
		"purchased_total":      entry.PurchasedTotal,
		"purchased_used":       entry.PurchasedUsed,
		"free_quota":           entry.FreeQuota,
		"free_used":            entry.FreeUsed,
		"unlimited":            entry.Unlimited,
		"unlimited_expires_at": expiryOrNil(entry.UnlimitedExpiryUnixUTC),
		"updated_at":           time.Now().UTC(),
	}
	result := store.db.WithContext(ctx).
		Model(&TokenAccount{}).
		Where("device_id = ?", entry.DeviceID).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, tokens.ErrUnknownDevice)
	}
	return nil
}

// Delete removes the row entirely.
func (store *Store) Delete(ctx context.Context, deviceID string) error {
	err := store.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Delete(&TokenAccount{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeDelete, err)
	}
	return nil
}

// MarkEventProcessed inserts the event id, reporting false on a duplicate.
func (store *Store) MarkEventProcessed(ctx context.Context, eventID string, payload string) (bool, error) {
	event := PaymentEvent{
		EventID:   eventID,
		Payload:   eventPayloadJSON(payload),
		CreatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&event).Error
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, wrapStoreError(errorSubjectEvent, errorCodeCreate, err)
	}
	return true, nil
}

func mapEntry(model TokenAccount) tokens.Entry {
	return tokens.Entry{
		DeviceID:               model.DeviceID,
		PurchasedTotal:         model.PurchasedTotal,
		PurchasedUsed:          model.PurchasedUsed,
		FreeQuota:              model.FreeQuota,
		FreeUsed:               model.FreeUsed,
		Unlimited:              model.Unlimited,
		UnlimitedExpiryUnixUTC: timeOrZero(model.UnlimitedExpiresAt),
		CreatedUnixUTC:         model.CreatedAt.Unix(),
	}
}

func expiryOrNil(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func eventPayloadJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultEventPayload))
	}
	return datatypes.JSON([]byte(raw))
}

func wrapStoreError(subject string, code string, err error) error {
	return tokens.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
