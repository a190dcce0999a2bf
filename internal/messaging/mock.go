package messaging

import (
	"context"
	"sync"

	"github.com/BTreeMap/DailyMentor/internal/models"
)

// SentMessage is a message recorded by MockTransport.
type SentMessage struct {
	UserID int64
	Ref    models.MessageRef
	Msg    models.OutMessage
}

// EditedMessage is an edit recorded by MockTransport.
type EditedMessage struct {
	Ref models.MessageRef
	Msg models.OutMessage
}

// MockTransport records outbound traffic and lets tests inject inbound events.
type MockTransport struct {
	mu      sync.Mutex
	Sent    []SentMessage
	Edited  []EditedMessage
	EditErr error
	SendErr error
	handler Handler
	ctx     context.Context
	nextID  int
}

var _ Transport = (*MockTransport)(nil)

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Start(ctx context.Context, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx, m.handler = ctx, h
	return nil
}

func (m *MockTransport) Stop() error {
	return nil
}

func (m *MockTransport) Send(_ context.Context, userID int64, msg models.OutMessage) (models.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return models.MessageRef{}, m.SendErr
	}
	m.nextID++
	ref := models.MessageRef{ChatID: userID, MessageID: m.nextID}
	m.Sent = append(m.Sent, SentMessage{UserID: userID, Ref: ref, Msg: msg})
	return ref, nil
}

func (m *MockTransport) Edit(_ context.Context, ref models.MessageRef, msg models.OutMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EditErr != nil {
		return m.EditErr
	}
	m.Edited = append(m.Edited, EditedMessage{Ref: ref, Msg: msg})
	return nil
}

// Deliver runs the registered handler synchronously on ev.
func (m *MockTransport) Deliver(ev InboundEvent) {
	m.mu.Lock()
	h, ctx := m.handler, m.ctx
	m.mu.Unlock()
	if h == nil {
		return
	}
	h(ctx, NewInboundEvent(ev, m))
}

// Texts returns the text of every sent message in order.
func (m *MockTransport) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Sent))
	for i, s := range m.Sent {
		out[i] = s.Msg.Text
	}
	return out
}

// Reset forgets recorded traffic.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent, m.Edited = nil, nil
}
