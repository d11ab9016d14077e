// Package gormstore persists the local sync journal: hydrated messages,
// processed event keys, and the resync cursor. It backs both sqlite (the
// on-device default) and postgres through GORM.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/paysync/pkg/syncer"
)

const (
	defaultMetadataJSON = "{}"
	messagesCursorID    = "messages"

	errorSubjectMessage = "message"
	errorSubjectEvent   = "event"
	errorSubjectCursor  = "cursor"
	errorCodeSave       = "save"
	errorCodeList       = "list"
	errorCodeGet        = "get"
)

// ErrStore wraps persistence failures.
var ErrStore = errors.New("journal store")

// Store implements the sync journal over gorm.DB.
type Store struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, nowFn: time.Now}
}

// AutoMigrate creates the journal tables.
func (store *Store) AutoMigrate() error {
	if err := store.db.AutoMigrate(&Message{}, &ProcessedEvent{}, &SyncCursor{}); err != nil {
		return wrapStoreError(errorSubjectMessage, "migrate", err)
	}
	return nil
}

// SaveMessage journals a hydrated message. Redelivered messages are
// absorbed silently: the first journaled copy wins.
func (store *Store) SaveMessage(ctx context.Context, message syncer.Message) error {
	record := Message{
		MessageID:  message.ID,
		SenderID:   message.SenderID,
		SenderName: message.SenderName,
		Body:       message.Body,
		Metadata:   datatypes.JSON([]byte(defaultMetadataJSON)),
		ReceivedAt: store.nowFn().UTC(),
	}
	if !message.SentAt.IsZero() {
		sentAt := message.SentAt.UTC()
		record.SentAt = &sentAt
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectMessage, errorCodeSave, err)
	}
	return nil
}

// RecentMessages lists the newest journaled messages, newest first.
func (store *Store) RecentMessages(ctx context.Context, limit int) ([]syncer.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var records []Message
	err := store.db.WithContext(ctx).
		Order("received_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectMessage, errorCodeList, err)
	}
	messages := make([]syncer.Message, 0, len(records))
	for _, record := range records {
		message := syncer.Message{
			ID:         record.MessageID,
			SenderID:   record.SenderID,
			SenderName: record.SenderName,
			Body:       record.Body,
		}
		if record.SentAt != nil {
			message.SentAt = *record.SentAt
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// RecordEventKey journals a processed event key. Empty keys carry no
// identity and are dropped; duplicate keys are absorbed.
func (store *Store) RecordEventKey(ctx context.Context, eventKey string) error {
	if eventKey == "" {
		return nil
	}
	record := ProcessedEvent{EventKey: eventKey, SeenAt: store.nowFn().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeSave, err)
	}
	return nil
}

// RecentEventKeys returns up to limit of the most recently seen event
// keys, oldest first, so feeding them to the dedupe store preserves its
// FIFO eviction order.
func (store *Store) RecentEventKeys(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var records []ProcessedEvent
	err := store.db.WithContext(ctx).
		Order("seen_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEvent, errorCodeList, err)
	}
	keys := make([]string, len(records))
	for index, record := range records {
		keys[len(records)-1-index] = record.EventKey
	}
	return keys, nil
}

// Cursor returns the last completed resync watermark, zero when no resync
// has completed yet.
func (store *Store) Cursor(ctx context.Context) (time.Time, error) {
	var record SyncCursor
	err := store.db.WithContext(ctx).
		Where("cursor_id = ?", messagesCursorID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, wrapStoreError(errorSubjectCursor, errorCodeGet, err)
	}
	return record.LastSyncedAt, nil
}

// SetCursor advances the resync watermark.
func (store *Store) SetCursor(ctx context.Context, syncedAt time.Time) error {
	record := SyncCursor{
		CursorID:     messagesCursorID,
		LastSyncedAt: syncedAt.UTC(),
		UpdatedAt:    store.nowFn().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cursor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_synced_at", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectCursor, errorCodeSave, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return fmt.Errorf("%w: %s.%s: %v", ErrStore, subject, code, err)
}
