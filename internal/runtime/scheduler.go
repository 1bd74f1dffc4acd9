package runtime

import (
	"context"
	"sync"
	"time"

	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
)

// TickSource calls onTick periodically until ctx is cancelled. onTick is
// never called concurrently with itself.
type TickSource interface {
	Run(ctx context.Context, onTick func()) error
}

// IntervalTicker ticks rate() times per second. The rate is re-read after
// every tick so pacing changes apply without a restart.
type IntervalTicker struct {
	rate func() int
}

// NewIntervalTicker returns a ticker paced by rate. Non-positive rates are
// treated as one tick per second.
func NewIntervalTicker(rate func() int) *IntervalTicker {
	return &IntervalTicker{rate: rate}
}

func (t *IntervalTicker) Run(ctx context.Context, onTick func()) error {
	current := t.rate()
	ticker := time.NewTicker(tickInterval(current))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			onTick()
			if next := t.rate(); next != current {
				current = next
				ticker.Reset(tickInterval(current))
			}
		}
	}
}

func tickInterval(ticksPerSecond int) time.Duration {
	if ticksPerSecond <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(ticksPerSecond)
}

// ManualTicker ticks only when told to. Tests use it to step the scheduler.
type ManualTicker struct {
	mu     sync.Mutex
	onTick func()
	ready  chan struct{}
	once   sync.Once
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{ready: make(chan struct{})}
}

// Run installs onTick and blocks until ctx is cancelled.
func (t *ManualTicker) Run(ctx context.Context, onTick func()) error {
	t.mu.Lock()
	t.onTick = onTick
	t.mu.Unlock()
	t.once.Do(func() { close(t.ready) })

	<-ctx.Done()

	t.mu.Lock()
	t.onTick = nil
	t.mu.Unlock()
	return nil
}

// Ready is closed once Run installed its callback.
func (t *ManualTicker) Ready() <-chan struct{} { return t.ready }

// Tick runs one tick synchronously. It is a no-op while Run is not active.
// The callback runs without the ticker lock held, so onTick may call Tick.
func (t *ManualTicker) Tick() {
	t.mu.Lock()
	onTick := t.onTick
	t.mu.Unlock()
	if onTick != nil {
		onTick()
	}
}

// TickN runs n ticks.
func (t *ManualTicker) TickN(n int) {
	for range n {
		t.Tick()
	}
}

// Drainer is the part of Transport the scheduler drives.
type Drainer interface {
	Drain() DrainResult
}

// Scheduler calls Drain once per tick.
type Scheduler struct {
	drainer Drainer
	source  TickSource
	logger  loggingpkg.ServiceLogger
}

func NewScheduler(drainer Drainer, source TickSource, logger loggingpkg.ServiceLogger) *Scheduler {
	if logger == nil {
		logger = loggingpkg.NopServiceLogger()
	}
	return &Scheduler{drainer: drainer, source: source, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.source.Run(ctx, func() {
		res := s.drainer.Drain()
		if res.Failed > 0 {
			s.logger.Trace("Drain tick left flits behind", loggingpkg.LogFields{
				"sent":      res.Sent,
				"failed":    res.Failed,
				"remaining": res.Remaining,
			})
		}
	})
}
