/*
scheduler.go - Background purge of expired token revocations

PURPOSE:
  Logout records the token id until the token would have expired. Once that
  time has passed the row is useless, so the scheduler periodically deletes
  expired revocations.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Errors are logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to purge (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  purger := NewRevocationPurger(store, log)
  purger.Start()
  // ... later
  purger.Stop()

SEE ALSO:
  - store/sqlite/sqlite.go: Revoke, PurgeRevocations
  - roster/roster.go: Logout
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RevocationStore deletes revocations whose tokens have expired.
type RevocationStore interface {
	PurgeRevocations(ctx context.Context) (int64, error)
}

// RevocationPurger periodically removes expired revocations.
type RevocationPurger struct {
	Store         RevocationStore
	Log           *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRevocationPurger creates a new scheduler.
func NewRevocationPurger(store RevocationStore, log *zap.Logger) *RevocationPurger {
	if log == nil {
		log = zap.NewNop()
	}
	return &RevocationPurger{
		Store:         store,
		Log:           log.Named("purger"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (p *RevocationPurger) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.Enabled {
		p.Log.Info("disabled, not starting")
		return
	}
	if p.ticker != nil {
		return
	}

	p.ticker = time.NewTicker(p.CheckInterval)
	p.stop = make(chan struct{})
	p.wg.Add(1)

	go p.run()

	p.Log.Info("started", zap.Duration("interval", p.CheckInterval))
}

// Stop stops the scheduler and waits for a running purge to finish.
func (p *RevocationPurger) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil {
		p.ticker.Stop()
		close(p.stop)
		p.wg.Wait()
		p.ticker = nil
		p.Log.Info("stopped")
	}
}

func (p *RevocationPurger) run() {
	defer p.wg.Done()

	// Run immediately on start
	p.PurgeOnce(context.Background())

	for {
		select {
		case <-p.ticker.C:
			p.PurgeOnce(context.Background())
		case <-p.stop:
			return
		}
	}
}

// PurgeOnce deletes expired revocations and returns how many were removed.
func (p *RevocationPurger) PurgeOnce(ctx context.Context) int64 {
	n, err := p.Store.PurgeRevocations(ctx)
	if err != nil {
		p.Log.Error("purge failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		p.Log.Info("purged expired revocations", zap.Int64("count", n))
	}
	return n
}
