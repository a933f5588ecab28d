package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("call not found")

// Manager tracks live voice calls. Calls that see no activity for the
// inactivity timeout are ended and their hangup function is invoked.
type Manager struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	hangups           map[string]func()
	inactivityTimeout time.Duration
	onExpire          func(*Call)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		calls:             make(map[string]*Call),
		hangups:           make(map[string]func()),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a call. hangup may be nil.
func (m *Manager) Create(remoteAddr string, hangup func()) *Call {
	now := m.now()
	c := &Call{
		ID:             uuid.NewString(),
		RemoteAddr:     remoteAddr,
		Status:         StatusActive,
		Connection:     "disconnected",
		Voice:          "idle",
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
	if hangup != nil {
		m.hangups[c.ID] = hangup
	}
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

// List returns all known calls, newest first.
func (m *Manager) List() []*Call {
	m.mu.RLock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, clone(c))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (m *Manager) Touch(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = m.now()
	return nil
}

// SetState records the bridge state of a call.
func (m *Manager) SetState(callID, connection, voice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Connection = connection
	c.Voice = voice
	c.LastActivityAt = m.now()
	return nil
}

// CountAudio records an assistant audio chunk relayed on the call.
func (m *Manager) CountAudio(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.AudioChunks++
	c.LastActivityAt = m.now()
	return nil
}

// End marks the call ended and invokes its hangup function once.
func (m *Manager) End(callID string) (*Call, error) {
	m.mu.Lock()
	c, ok := m.calls[callID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	hangup := m.markEnded(c)
	out := clone(c)
	m.mu.Unlock()

	if hangup != nil {
		hangup()
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.calls {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

// markEnded must be called with m.mu held.
func (m *Manager) markEnded(c *Call) func() {
	if c.Status != StatusActive {
		return nil
	}
	now := m.now()
	c.Status = StatusEnded
	c.Connection = "disconnected"
	c.Voice = "idle"
	c.LastActivityAt = now
	c.EndedAt = now
	hangup := m.hangups[c.ID]
	delete(m.hangups, c.ID)
	return hangup
}

func (m *Manager) expireInactive() {
	now := m.now()
	var (
		expired []*Call
		hangups []func()
	)

	m.mu.Lock()
	for id, c := range m.calls {
		if c.Status != StatusActive {
			// Ended calls stay listed for one more timeout window.
			if now.Sub(c.EndedAt) >= m.inactivityTimeout {
				delete(m.calls, id)
			}
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		if h := m.markEnded(c); h != nil {
			hangups = append(hangups, h)
		}
		expired = append(expired, clone(c))
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, h := range hangups {
		h()
	}
	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Call) *Call {
	out := *c
	return &out
}
