package kv

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// brokenBackend fails every operation, like an unreachable Redis.
type brokenBackend struct{}

var errDown = errors.New("connection refused")

func (b *brokenBackend) Get(string) (string, bool, error)         { return "", false, errDown }
func (b *brokenBackend) SetWithTTL(string, string, time.Duration) error { return errDown }
func (b *brokenBackend) Delete(string) error                      { return errDown }
func (b *brokenBackend) AddToSet(string, string) error            { return errDown }
func (b *brokenBackend) RemoveFromSet(string, string) error       { return errDown }
func (b *brokenBackend) Members(string) ([]string, error)         { return nil, errDown }
func (b *brokenBackend) Ping() error                              { return errDown }
func (b *brokenBackend) Close() error                             { return nil }

type recordingNotifier struct {
	mu       sync.Mutex
	degraded int
	restored int
}

func (n *recordingNotifier) NotifyDegraded(error) {
	n.mu.Lock()
	n.degraded++
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyRestored() {
	n.mu.Lock()
	n.restored++
	n.mu.Unlock()
}

func newTestFacade(t *testing.T, remote Backend) (*Facade, *recordingNotifier) {
	t.Helper()
	mem := newTestMem(t)
	notifier := &recordingNotifier{}
	return NewFacade(remote, mem, NewHealth(), notifier), notifier
}

// With the remote forced to fail, operations still return successful,
// consistent results sourced from the fallback.
func TestFacadeFallbackTransparency(t *testing.T) {
	f, _ := newTestFacade(t, &brokenBackend{})

	f.SetWithTTL("chat:42", "history", 7*24*time.Hour)
	f.AddToSet("chat:ids", "42")

	val, found := f.Get("chat:42")
	if !found {
		t.Fatal("Expected value from fallback store")
	}
	if val != "history" {
		t.Errorf("Expected 'history', got %q", val)
	}

	members := f.Members("chat:ids")
	if len(members) != 1 || members[0] != "42" {
		t.Errorf("Expected [42], got %v", members)
	}

	f.Delete("chat:42")
	if _, found := f.Get("chat:42"); found {
		t.Error("Expected key to be gone after Delete")
	}
}

func TestFacadeDegradesOnce(t *testing.T) {
	f, notifier := newTestFacade(t, &brokenBackend{})

	f.SetWithTTL("a", "1", 0)
	f.SetWithTTL("b", "2", 0)
	f.Get("a")

	if f.Health().Healthy() {
		t.Error("Expected health to be degraded")
	}
	if notifier.degraded != 1 {
		t.Errorf("Expected exactly 1 degraded alert, got %d", notifier.degraded)
	}
}

func TestFacadeAlertThrottlePerDay(t *testing.T) {
	h := NewHealth()
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	if !h.markDegraded(now) {
		t.Fatal("Expected first degrade to alert")
	}
	if h.markDegraded(now.Add(3 * time.Hour)) {
		t.Error("Expected same-day degrade to be throttled")
	}
	if !h.markDegraded(now.Add(24 * time.Hour)) {
		t.Error("Expected next-day degrade to alert again")
	}
}

func TestFacadeRestoredNotifiesOnce(t *testing.T) {
	f, notifier := newTestFacade(t, &brokenBackend{})

	f.Get("x") // degrade
	f.MarkRestored()
	f.MarkRestored()

	if notifier.restored != 1 {
		t.Errorf("Expected exactly 1 restored notification, got %d", notifier.restored)
	}

	// Recovery resets the alert throttle.
	f.SetRemote(&brokenBackend{})
	f.Get("x")
	if notifier.degraded != 2 {
		t.Errorf("Expected a fresh degraded alert after recovery, got %d", notifier.degraded)
	}
}

func TestFacadeSkipsRemoteWhileDegraded(t *testing.T) {
	f, _ := newTestFacade(t, &brokenBackend{})

	f.Get("x")
	if f.useRemote() {
		t.Error("Expected degraded facade to skip the remote tier")
	}
	f.MarkRestored()
	if !f.useRemote() {
		t.Error("Expected restored facade to use the remote tier again")
	}
}

func TestFacadeWithoutRemote(t *testing.T) {
	f, notifier := newTestFacade(t, nil)

	f.SetWithTTL("k", "v", 0)
	if val, found := f.Get("k"); !found || val != "v" {
		t.Errorf("Expected offline facade to serve from fallback, got %q/%v", val, found)
	}
	if f.Ping() {
		t.Error("Expected Ping to be false without a remote tier")
	}
	if notifier.degraded != 0 {
		t.Errorf("Expected no alerts in offline mode, got %d", notifier.degraded)
	}
}
