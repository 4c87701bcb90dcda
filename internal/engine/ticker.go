package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/config"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/metrics"
)

// DefaultTickRate is the number of passive accrual ticks per second.
const DefaultTickRate = 20

// Ticker drives passive accrual at a fixed rate.
// It does NOT know about upgrades or gating - only time progression.
type Ticker struct {
	ledger     *Ledger
	logger     *logger.Logger
	metrics    *metrics.Collector
	rate       int
	catchUp    bool
	maxCatchUp time.Duration
	tickNumber int64
	last       time.Time
}

// NewTicker creates a ticker for ledger.
func NewTicker(ledger *Ledger, cfg config.TickConfig, log *logger.Logger, m *metrics.Collector) *Ticker {
	rate := cfg.Rate
	if rate <= 0 {
		rate = DefaultTickRate
	}
	if log == nil {
		log = ledger.logger
	}
	if m == nil {
		m = ledger.metrics
	}
	return &Ticker{
		ledger:     ledger,
		logger:     log,
		metrics:    m,
		rate:       rate,
		catchUp:    cfg.CatchUp,
		maxCatchUp: cfg.MaxCatchUp,
	}
}

// Interval is the wall-clock time between ticks.
func (t *Ticker) Interval() time.Duration {
	return time.Second / time.Duration(t.rate)
}

// Start begins the tick loop. Call in a goroutine.
func (t *Ticker) Start(ctx context.Context) {
	t.logger.Infof("Engine Ticker started at %d ticks/s (catch-up %v)", t.rate, t.catchUp)

	ticker := time.NewTicker(t.Interval())
	defer ticker.Stop()
	t.last = time.Now()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Engine Ticker stopped by context.")
			return
		case now := <-ticker.C:
			t.step(now)
		}
	}
}

// step advances the ledger by one tick. Without catch-up every tick is worth 1/rate
// seconds, so ticks the runtime drops are lost time. With catch-up the tick is worth
// the wall-clock time since the previous one, capped at maxCatchUp.
func (t *Ticker) step(now time.Time) {
	delta := 1 / float64(t.rate)
	if t.catchUp && !t.last.IsZero() {
		elapsed := now.Sub(t.last)
		if t.maxCatchUp > 0 && elapsed > t.maxCatchUp {
			elapsed = t.maxCatchUp
		}
		if elapsed > 0 {
			delta = elapsed.Seconds()
		}
	}
	t.last = now

	start := time.Now()
	t.ledger.Tick(delta)
	atomic.AddInt64(&t.tickNumber, 1)
	t.metrics.RecordTick(time.Since(start))
}

// TickNumber returns how many ticks have run.
func (t *Ticker) TickNumber() int64 {
	return atomic.LoadInt64(&t.tickNumber)
}
