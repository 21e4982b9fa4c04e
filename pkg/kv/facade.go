package kv

import (
	"log"
	"sync"
	"time"
)

// Notifier delivers store health alerts to the operator. Implemented by
// the telegram package (alerts go to the admin chat).
type Notifier interface {
	NotifyDegraded(err error)
	NotifyRestored()
}

// Health is the process-wide store health state. It is mutated by the
// Facade (on operation errors) and the kvhealth monitor (on ping results),
// and read by the Facade to decide whether the remote tier is worth trying.
type Health struct {
	mu        sync.Mutex
	healthy   bool
	lastAlert time.Time
}

func NewHealth() *Health {
	return &Health{healthy: true}
}

func (h *Health) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// markDegraded flips the state to degraded and reports whether an operator
// alert should fire. Alerts are throttled to one per calendar day.
func (h *Health) markDegraded(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.healthy = false
	y1, m1, d1 := h.lastAlert.Date()
	y2, m2, d2 := now.Date()
	if !h.lastAlert.IsZero() && y1 == y2 && m1 == m2 && d1 == d2 {
		return false
	}
	h.lastAlert = now
	return true
}

// markHealthy flips the state back and reports whether this was a recovery.
// A recovery resets the alert throttle so the next incident alerts again.
func (h *Health) markHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.healthy {
		return false
	}
	h.healthy = true
	h.lastAlert = time.Time{}
	return true
}

// Facade is the store every caller talks to. Operations go to the remote
// tier first; any remote error degrades health, alerts the operator (at
// most once per day), and is transparently retried against the in-process
// fallback. Callers never observe a store failure.
//
// Data written to the fallback while degraded is not replayed to the
// remote tier on recovery; new writes simply go remote again.
type Facade struct {
	mu       sync.Mutex
	remote   Backend
	fallback *Mem
	health   *Health
	notifier Notifier
}

// NewFacade wires a facade over an optional remote tier. remote may be nil
// (offline mode); the facade then runs purely on the fallback. notifier
// may be nil, in which case alerts are only logged.
func NewFacade(remote Backend, fallback *Mem, health *Health, notifier Notifier) *Facade {
	return &Facade{
		remote:   remote,
		fallback: fallback,
		health:   health,
		notifier: notifier,
	}
}

// Health exposes the shared health state for the monitor.
func (f *Facade) Health() *Health { return f.health }

// Remote returns the current remote tier, or nil if it has been dropped.
func (f *Facade) Remote() Backend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

// SetRemote replaces the remote tier. Used by the health monitor when it
// reconstructs a dropped client.
func (f *Facade) SetRemote(b Backend) {
	f.mu.Lock()
	f.remote = b
	f.mu.Unlock()
}

// MarkDegraded records a remote failure and fires the throttled alert.
func (f *Facade) MarkDegraded(err error) {
	if f.health.markDegraded(time.Now()) {
		log.Printf("[KV] remote store degraded: %v", err)
		if f.notifier != nil {
			f.notifier.NotifyDegraded(err)
		}
	}
}

// MarkRestored records remote recovery and sends exactly one restored
// notification per incident.
func (f *Facade) MarkRestored() {
	if f.health.markHealthy() {
		log.Printf("[KV] remote store restored")
		if f.notifier != nil {
			f.notifier.NotifyRestored()
		}
	}
}

func (f *Facade) useRemote() bool {
	return f.Remote() != nil && f.health.Healthy()
}

func (f *Facade) Get(key string) (string, bool) {
	if f.useRemote() {
		val, found, err := f.Remote().Get(key)
		if err == nil {
			return val, found
		}
		f.MarkDegraded(err)
	}
	val, found, err := f.fallback.Get(key)
	if err != nil {
		log.Printf("[KV] fallback get %s failed: %v", key, err)
		return "", false
	}
	return val, found
}

func (f *Facade) SetWithTTL(key, value string, ttl time.Duration) {
	if f.useRemote() {
		if err := f.Remote().SetWithTTL(key, value, ttl); err == nil {
			return
		} else {
			f.MarkDegraded(err)
		}
	}
	if err := f.fallback.SetWithTTL(key, value, ttl); err != nil {
		log.Printf("[KV] fallback set %s failed: %v", key, err)
	}
}

func (f *Facade) Delete(key string) {
	if f.useRemote() {
		if err := f.Remote().Delete(key); err != nil {
			f.MarkDegraded(err)
		}
	}
	if err := f.fallback.Delete(key); err != nil {
		log.Printf("[KV] fallback delete %s failed: %v", key, err)
	}
}

func (f *Facade) AddToSet(set, member string) {
	if f.useRemote() {
		if err := f.Remote().AddToSet(set, member); err == nil {
			return
		} else {
			f.MarkDegraded(err)
		}
	}
	if err := f.fallback.AddToSet(set, member); err != nil {
		log.Printf("[KV] fallback sadd %s failed: %v", set, err)
	}
}

func (f *Facade) RemoveFromSet(set, member string) {
	if f.useRemote() {
		if err := f.Remote().RemoveFromSet(set, member); err != nil {
			f.MarkDegraded(err)
		}
	}
	if err := f.fallback.RemoveFromSet(set, member); err != nil {
		log.Printf("[KV] fallback srem %s failed: %v", set, err)
	}
}

func (f *Facade) Members(set string) []string {
	if f.useRemote() {
		members, err := f.Remote().Members(set)
		if err == nil {
			return members
		}
		f.MarkDegraded(err)
	}
	members, err := f.fallback.Members(set)
	if err != nil {
		log.Printf("[KV] fallback smembers %s failed: %v", set, err)
		return nil
	}
	return members
}

// Ping probes the remote tier only. The fallback cannot fail a ping, so a
// facade without a remote reports false; the monitor uses this to keep
// trying to reconnect.
func (f *Facade) Ping() bool {
	remote := f.Remote()
	if remote == nil {
		return false
	}
	return remote.Ping() == nil
}
