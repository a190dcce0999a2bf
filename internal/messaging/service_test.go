package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/store"
)

func TestReplyEditsOnlyForCallbacks(t *testing.T) {
	ctx := context.Background()
	m := NewMockTransport()
	ref := models.MessageRef{ChatID: 1, MessageID: 42}

	press := NewInboundEvent(InboundEvent{UserID: 1, Callback: true, Message: ref}, m)
	got, err := press.Reply(ctx, models.OutMessage{Text: "updated", Replace: true})
	if err != nil {
		t.Fatal(err)
	}
	if got != ref || len(m.Edited) != 1 || len(m.Sent) != 0 {
		t.Errorf("callback reply should edit in place: ref %+v, edits %d, sends %d", got, len(m.Edited), len(m.Sent))
	}

	typed := NewInboundEvent(InboundEvent{UserID: 1, Text: "hi"}, m)
	if _, err := typed.Reply(ctx, models.OutMessage{Text: "new", Replace: true}); err != nil {
		t.Fatal(err)
	}
	if len(m.Sent) != 1 || m.Sent[0].Msg.Replace {
		t.Errorf("text reply should send a fresh message: %+v", m.Sent)
	}
}

func TestReplyFallsBackToSendWhenEditFails(t *testing.T) {
	m := NewMockTransport()
	m.EditErr = ErrMessageNotEditable
	ev := NewInboundEvent(InboundEvent{UserID: 3, Callback: true, Message: models.MessageRef{ChatID: 3, MessageID: 9}}, m)
	if _, err := ev.Reply(context.Background(), models.OutMessage{Text: "x", Replace: true}); err != nil {
		t.Fatal(err)
	}
	if len(m.Sent) != 1 {
		t.Errorf("expected fallback send, got %d", len(m.Sent))
	}
}

func TestUnboundEventCannotReply(t *testing.T) {
	if _, err := (InboundEvent{UserID: 1}).Reply(context.Background(), models.Text("x")); err == nil {
		t.Error("expected error without a sender")
	}
	if err := (InboundEvent{UserID: 1}).Edit(context.Background(), models.Text("x")); !errors.Is(err, ErrMessageNotEditable) {
		t.Errorf("Edit = %v, want ErrMessageNotEditable", err)
	}
}

func TestDedupKey(t *testing.T) {
	if got := (InboundEvent{UpdateID: 777}).DedupKey(); got != "tg:777" {
		t.Errorf("DedupKey = %q", got)
	}
}

func TestClassifyEditError(t *testing.T) {
	if err := classifyEditError(errors.New("telegram: Bad Request: message is not modified (400)")); err != nil {
		t.Errorf("unchanged message should be success, got %v", err)
	}
	if err := classifyEditError(errors.New("telegram: Bad Request: message can't be edited (400)")); !errors.Is(err, ErrMessageNotEditable) {
		t.Errorf("got %v, want ErrMessageNotEditable", err)
	}
	other := errors.New("boom")
	if err := classifyEditError(other); err != other {
		t.Errorf("got %v, want passthrough", err)
	}
}

func TestMarkup(t *testing.T) {
	msg := models.OutMessage{
		Text:     "pick",
		MainMenu: true,
		Keyboard: models.Keyboard{
			models.Row(models.Button{Label: "A", Data: "a"}, models.Button{Label: "B", Data: "b"}),
			models.Row(models.Button{Label: "Pay", URL: "https://example.com"}),
		},
	}
	kb := sendMarkup(msg)
	if kb == nil || len(kb.InlineKeyboard) != 2 || kb.InlineKeyboard[0][1].Data != "b" || kb.InlineKeyboard[1][0].URL == "" {
		t.Fatalf("inline markup = %+v", kb)
	}
	if kb.ReplyKeyboard != nil {
		t.Error("inline keyboard and main menu must not be combined")
	}

	menu := sendMarkup(Menu("hi"))
	if menu == nil || !menu.ResizeKeyboard || len(menu.ReplyKeyboard) != len(MainMenuRows) {
		t.Fatalf("menu markup = %+v", menu)
	}
	if sendMarkup(models.Text("plain")) != nil {
		t.Error("plain message should carry no markup")
	}
}

func TestIsMenuLabel(t *testing.T) {
	if !IsMenuLabel(MenuBilling) || IsMenuLabel("hello") {
		t.Error("IsMenuLabel misclassified")
	}
}

func TestNewTelegramServiceRequiresToken(t *testing.T) {
	if _, err := NewTelegramService("", WithOffline()); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestOutboxDeliverySendsPayload(t *testing.T) {
	mt := NewMockTransport()
	send := OutboxDelivery(mt)

	err := send(context.Background(), store.OutboxMessage{ID: "o1", UserID: 7, PayloadJSON: `{"text":"paid"}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mt.Sent) != 1 || mt.Sent[0].UserID != 7 || mt.Sent[0].Msg.Text != "paid" {
		t.Errorf("sent = %+v", mt.Sent)
	}
	if err := send(context.Background(), store.OutboxMessage{ID: "o2", UserID: 7, PayloadJSON: "{"}); err == nil {
		t.Error("expected decode error")
	}
}
