// Package messaging defines the bot transport: normalized inbound events, outbound
// send and edit, the main-menu keyboard, and the Telegram adapter.
package messaging

import (
	"context"
	"errors"

	"github.com/BTreeMap/DailyMentor/internal/models"
)

// ErrMessageNotEditable is returned by Edit when the target message can no longer be changed.
var ErrMessageNotEditable = errors.New("message not editable")

// Sender delivers and updates outbound messages.
type Sender interface {
	// Send delivers msg to the user's private chat and returns a reference to it.
	Send(ctx context.Context, userID int64, msg models.OutMessage) (models.MessageRef, error)
	// Edit replaces the text and inline keyboard of a sent message.
	Edit(ctx context.Context, ref models.MessageRef, msg models.OutMessage) error
}

// Handler processes one inbound event. Handlers for different events may run concurrently.
type Handler func(ctx context.Context, ev InboundEvent)

// Transport is a pluggable chat transport.
type Transport interface {
	Sender
	// Start begins delivering inbound events to h in the background.
	Start(ctx context.Context, h Handler) error
	// Stop stops receiving updates.
	Stop() error
}

// InboundEvent is a text message or a button press, normalized across kinds.
type InboundEvent struct {
	// UpdateID is the transport's update id, used for inbound dedup.
	UpdateID int64
	UserID   int64
	ChatID   int64
	// Text is the message text, or the button payload for callbacks.
	Text     string
	Callback bool
	// Message is the message the pressed button was attached to.
	Message models.MessageRef

	sender Sender
}

// NewInboundEvent binds ev to the sender it should answer through.
func NewInboundEvent(ev InboundEvent, s Sender) InboundEvent {
	ev.sender = s
	return ev
}

// DedupKey identifies the update for inbound dedup.
func (ev InboundEvent) DedupKey() string {
	return "tg:" + itoa(ev.UpdateID)
}

// Reply answers the event. A message with Replace set edits the message the button
// was attached to; it falls back to a new message when that fails or there is none.
func (ev InboundEvent) Reply(ctx context.Context, msg models.OutMessage) (models.MessageRef, error) {
	if ev.sender == nil {
		return models.MessageRef{}, errors.New("inbound event has no sender")
	}
	if msg.Replace && ev.Callback && !ev.Message.IsZero() {
		if err := ev.sender.Edit(ctx, ev.Message, msg); err == nil {
			return ev.Message, nil
		}
	}
	msg.Replace = false
	return ev.sender.Send(ctx, ev.UserID, msg)
}

// Edit changes the message the pressed button was attached to.
func (ev InboundEvent) Edit(ctx context.Context, msg models.OutMessage) error {
	if ev.sender == nil || ev.Message.IsZero() {
		return ErrMessageNotEditable
	}
	return ev.sender.Edit(ctx, ev.Message, msg)
}
