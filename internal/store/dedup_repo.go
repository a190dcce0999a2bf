package store

import (
	"context"
	"time"
)

// DedupRecord is an inbound update seen by the bot.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	UserID      int64      `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo deduplicates inbound updates and idempotent external events.
type DedupRepo interface {
	// IsDuplicate reports whether messageID was already recorded.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound inserts a record and returns false if messageID was already recorded.
	RecordInbound(ctx context.Context, messageID string, userID int64) (bool, error)

	MarkProcessed(ctx context.Context, messageID string) error
}
