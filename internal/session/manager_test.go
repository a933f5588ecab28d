package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	var hangups atomic.Int32
	c := m.Create("127.0.0.1:5000", func() { hangups.Add(1) })
	if c.ID == "" {
		t.Fatalf("call ID should not be empty")
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RemoteAddr != "127.0.0.1:5000" || got.Status != StatusActive || got.Connection != "disconnected" {
		t.Fatalf("unexpected call state: %+v", got)
	}

	ended, err := m.End(c.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndedAt.IsZero() {
		t.Fatalf("unexpected ended call: %+v", ended)
	}
	if _, err := m.End(c.ID); err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if hangups.Load() != 1 {
		t.Fatalf("hangup calls = %d, want 1", hangups.Load())
	}
}

func TestManagerUnknownCall(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("missing"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := m.Touch("missing"); err != ErrNotFound {
		t.Fatalf("Touch() error = %v, want ErrNotFound", err)
	}
	if _, err := m.End("missing"); err != ErrNotFound {
		t.Fatalf("End() error = %v, want ErrNotFound", err)
	}
}

func TestManagerSetStateAndCountAudio(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("", nil)

	if err := m.SetState(c.ID, "connected", "speaking"); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if err := m.CountAudio(c.ID); err != nil {
		t.Fatalf("CountAudio() error = %v", err)
	}
	got, _ := m.Get(c.ID)
	if got.Connection != "connected" || got.Voice != "speaking" || got.AudioChunks != 1 {
		t.Fatalf("unexpected call state: %+v", got)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
}

func TestManagerListNewestFirst(t *testing.T) {
	m := NewManager(time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	m.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	first := m.Create("a", nil)
	second := m.Create("b", nil)

	calls := m.List()
	if len(calls) != 2 || calls[0].ID != second.ID || calls[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", calls)
	}
}

func TestManagerJanitorExpiresInactiveCalls(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	var hangups atomic.Int32
	expired := make(chan *Call, 1)
	m.SetExpireHook(func(c *Call) { expired <- c })
	c := m.Create("", func() { hangups.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 5*time.Millisecond)

	select {
	case got := <-expired:
		if got.ID != c.ID || got.Status != StatusEnded {
			t.Fatalf("unexpected expired call: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("call was not expired")
	}
	if hangups.Load() != 1 {
		t.Fatalf("hangup calls = %d, want 1", hangups.Load())
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerPrunesEndedCalls(t *testing.T) {
	m := NewManager(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	c := m.Create("", nil)
	if _, err := m.End(c.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	now = now.Add(30 * time.Second)
	m.expireInactive()
	if _, err := m.Get(c.ID); err != nil {
		t.Fatalf("ended call pruned too early: %v", err)
	}

	now = now.Add(31 * time.Second)
	m.expireInactive()
	if _, err := m.Get(c.ID); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}
