package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message is the journaled copy of a hydrated live message.
type Message struct {
	MessageID  string         `gorm:"primaryKey"`
	SenderID   string         `gorm:"not null;index:idx_messages_sender"`
	SenderName string         `gorm:"not null"`
	Body       string         `gorm:"not null"`
	SentAt     *time.Time     `gorm:""`
	Metadata   datatypes.JSON `gorm:"not null"`
	ReceivedAt time.Time      `gorm:"not null;index:idx_messages_received"`
}

func (Message) TableName() string { return "messages" }

func (message *Message) BeforeCreate(tx *gorm.DB) error {
	if message.MessageID == "" {
		message.MessageID = uuid.NewString()
	}
	return nil
}

// ProcessedEvent records an event key the coordinator has already handled,
// so the in-memory dedupe store can be warm-started across restarts.
type ProcessedEvent struct {
	EventKey string    `gorm:"primaryKey"`
	SeenAt   time.Time `gorm:"not null;index:idx_processed_events_seen"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }

// SyncCursor is the single-row watermark of the last completed resync.
type SyncCursor struct {
	CursorID     string    `gorm:"primaryKey"`
	LastSyncedAt time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (SyncCursor) TableName() string { return "sync_cursors" }
