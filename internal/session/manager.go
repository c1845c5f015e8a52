package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("call not found")

// Call is the registry view of one bridged phone call.
type Call struct {
	ID             string    `json:"call_id"`
	Profile        string    `json:"profile"`
	CustomerNumber string    `json:"customer_number"`
	StreamSID      string    `json:"stream_sid,omitempty"`
	CallSID        string    `json:"call_sid,omitempty"`
	Status         Status    `json:"status"`
	Interruptions  int       `json:"interruptions"`
	ToolCalls      int       `json:"tool_calls"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
}

// Manager tracks calls currently bridged by this process.
type Manager struct {
	mu    sync.RWMutex
	calls map[string]*Call
	onEnd func(*Call)
}

func NewManager() *Manager {
	return &Manager{calls: make(map[string]*Call)}
}

// SetEndHook registers a callback invoked after a call ends.
func (m *Manager) SetEndHook(hook func(*Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = hook
}

func (m *Manager) Create(profile, customerNumber string) *Call {
	now := time.Now().UTC()
	c := &Call{
		ID:             uuid.NewString(),
		Profile:        profile,
		CustomerNumber: customerNumber,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
	return clone(c)
}

func (m *Manager) Get(callID string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

// AttachStream records the telephony identifiers announced by the stream start frame.
func (m *Manager) AttachStream(callID, streamSID, callSID string) error {
	return m.update(callID, func(c *Call) {
		c.StreamSID = streamSID
		c.CallSID = callSID
	})
}

func (m *Manager) RecordInterruption(callID string) error {
	return m.update(callID, func(c *Call) { c.Interruptions++ })
}

func (m *Manager) RecordToolCall(callID string) error {
	return m.update(callID, func(c *Call) { c.ToolCalls++ })
}

// End removes the call from the registry and returns its final state.
func (m *Manager) End(callID string) (*Call, error) {
	m.mu.Lock()
	c, ok := m.calls[callID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	c.Status = StatusEnded
	c.EndedAt = now
	c.LastActivityAt = now
	delete(m.calls, callID)
	ended := clone(c)
	hook := m.onEnd
	m.mu.Unlock()

	if hook != nil {
		hook(ended)
	}
	return ended, nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// List returns active calls, oldest first.
func (m *Manager) List() []*Call {
	m.mu.RLock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, clone(c))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *Manager) update(callID string, fn func(*Call)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func clone(c *Call) *Call {
	cp := *c
	return &cp
}
