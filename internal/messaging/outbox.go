package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/store"
)

// OutboxDelivery returns an outbox send func whose payloads are JSON OutMessages.
func OutboxDelivery(sender Sender) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		var out models.OutMessage
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &out); err != nil {
			return fmt.Errorf("decode outbox %s payload: %w", msg.ID, err)
		}
		if _, err := sender.Send(ctx, msg.UserID, out); err != nil {
			return fmt.Errorf("deliver outbox %s: %w", msg.ID, err)
		}
		return nil
	}
}
