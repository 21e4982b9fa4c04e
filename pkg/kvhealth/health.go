// Package kvhealth runs the background health check for the remote chat
// store: periodic pings, reconnection of a dropped client, and the
// degraded/restored transitions on the shared health state.
package kvhealth

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/umka-bot/umka/pkg/kv"
)

// Redial reconstructs a remote backend when the previous handle was
// dropped. Returning an error keeps the facade on the fallback tier.
type Redial func() (kv.Backend, error)

// Monitor owns the single background loop. It shares only the facade and
// its health state with the request path.
type Monitor struct {
	facade   *kv.Facade
	interval time.Duration
	redial   Redial

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor. interval <= 0 defaults to one minute.
func New(facade *kv.Facade, interval time.Duration, redial Redial) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		facade:   facade,
		interval: interval,
		redial:   redial,
	}
}

// Start launches the loop. It returns an error if already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("health monitor already running")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true

	log.Printf("[Health] starting store health check (interval: %v)", m.interval)
	go m.loop(ctx)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	log.Printf("[Health] store health check stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check performs one probe: rebuild the client if it was dropped, ping,
// and flip the shared health state accordingly. Exported so tests and the
// entrypoint can run a probe without waiting for the ticker.
func (m *Monitor) Check() {
	if m.facade.Remote() == nil {
		if m.redial == nil {
			return
		}
		backend, err := m.redial()
		if err != nil {
			log.Printf("[Health] reconnect failed: %v", err)
			return
		}
		m.facade.SetRemote(backend)
		log.Printf("[Health] remote client reconstructed")
	}

	if m.facade.Ping() {
		m.facade.MarkRestored()
	} else {
		m.facade.MarkDegraded(fmt.Errorf("ping failed"))
	}
}
