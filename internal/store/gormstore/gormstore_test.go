package gormstore

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/paysync/pkg/syncer"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	store := New(db)
	if err := store.AutoMigrate(); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return store
}

func TestSaveMessageAbsorbsRedelivery(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	message := syncer.Message{
		ID:         "message-1",
		SenderID:   "sender-1",
		SenderName: "Sender One",
		Body:       "hello",
		SentAt:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveMessage(context.Background(), message); err != nil {
		test.Fatalf("save: %v", err)
	}
	message.Body = "changed on redelivery"
	if err := store.SaveMessage(context.Background(), message); err != nil {
		test.Fatalf("redelivered save: %v", err)
	}
	messages, err := store.RecentMessages(context.Background(), 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(messages) != 1 {
		test.Fatalf("expected one journaled message, got %d", len(messages))
	}
	if messages[0].Body != "hello" {
		test.Fatalf("first journaled copy must win, got %q", messages[0].Body)
	}
	if messages[0].SentAt.IsZero() {
		test.Fatalf("sent_at not round-tripped")
	}
}

func TestRecordEventKeyDropsEmptyAndDuplicates(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	if err := store.RecordEventKey(context.Background(), ""); err != nil {
		test.Fatalf("empty key: %v", err)
	}
	if err := store.RecordEventKey(context.Background(), "event-1"); err != nil {
		test.Fatalf("record: %v", err)
	}
	if err := store.RecordEventKey(context.Background(), "event-1"); err != nil {
		test.Fatalf("duplicate record: %v", err)
	}
	keys, err := store.RecentEventKeys(context.Background(), 10)
	if err != nil {
		test.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "event-1" {
		test.Fatalf("expected [event-1], got %v", keys)
	}
}

func TestRecentEventKeysReturnsOldestFirstWithinWindow(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	instant := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store.nowFn = func() time.Time {
		instant = instant.Add(time.Second)
		return instant
	}
	for _, key := range []string{"event-1", "event-2", "event-3"} {
		if err := store.RecordEventKey(context.Background(), key); err != nil {
			test.Fatalf("record %s: %v", key, err)
		}
	}
	keys, err := store.RecentEventKeys(context.Background(), 2)
	if err != nil {
		test.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "event-2" || keys[1] != "event-3" {
		test.Fatalf("expected the two newest keys oldest-first, got %v", keys)
	}
}

func TestCursorRoundTrip(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	cursor, err := store.Cursor(context.Background())
	if err != nil {
		test.Fatalf("initial cursor: %v", err)
	}
	if !cursor.IsZero() {
		test.Fatalf("expected zero cursor before any resync")
	}
	first := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.SetCursor(context.Background(), first); err != nil {
		test.Fatalf("set cursor: %v", err)
	}
	second := first.Add(time.Hour)
	if err := store.SetCursor(context.Background(), second); err != nil {
		test.Fatalf("advance cursor: %v", err)
	}
	cursor, err = store.Cursor(context.Background())
	if err != nil {
		test.Fatalf("cursor: %v", err)
	}
	if !cursor.Equal(second) {
		test.Fatalf("expected %v, got %v", second, cursor)
	}
}
