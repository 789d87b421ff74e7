package store

import (
	"log"
	"sync"
	"time"
)

// Default retention windows. Relay state is short-lived; recordings and
// their key bindings are kept for a week.
const (
	DefaultSweepInterval = 5 * time.Minute
	RelayMaxAge          = 30 * time.Minute
	CaptureMaxAge        = 30 * time.Minute
	RecordingMaxAge      = 7 * 24 * time.Hour
)

// Sweepable is implemented by every expiring store.
type Sweepable interface {
	Sweep(maxAge time.Duration) int
}

type sweepTarget struct {
	name   string
	maxAge time.Duration
	store  Sweepable
}

// Sweeper drives periodic eviction across all registered stores on an
// independent timer, decoupled from request handling.
type Sweeper struct {
	interval time.Duration

	mu      sync.Mutex
	targets []sweepTarget

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a Sweeper with the given tick interval. An interval
// of 0 uses DefaultSweepInterval.
func NewSweeper(interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Register adds a store to the sweep rotation. Must be called before Start.
func (sw *Sweeper) Register(name string, maxAge time.Duration, s Sweepable) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.targets = append(sw.targets, sweepTarget{name: name, maxAge: maxAge, store: s})
}

// Start launches the background sweep loop.
func (sw *Sweeper) Start() {
	sw.wg.Add(1)
	go sw.run()
}

// Stop terminates the sweep loop and waits for the in-flight pass to finish.
func (sw *Sweeper) Stop() {
	sw.stopOnce.Do(func() { close(sw.stopCh) })
	sw.wg.Wait()
}

func (sw *Sweeper) run() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.SweepAll()
		case <-sw.stopCh:
			return
		}
	}
}

// SweepAll runs a single eviction pass over every registered store.
// Exposed for tests and for forced cleanup on shutdown.
func (sw *Sweeper) SweepAll() {
	sw.mu.Lock()
	targets := make([]sweepTarget, len(sw.targets))
	copy(targets, sw.targets)
	sw.mu.Unlock()

	for _, t := range targets {
		if n := t.store.Sweep(t.maxAge); n > 0 {
			log.Printf("sweep: %s evicted %d expired entries", t.name, n)
		}
	}
}
