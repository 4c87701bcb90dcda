// Package metrics provides observability for the cheese economy.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers economy and transport counters.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	LastTickTime   time.Time

	// Ledger metrics
	Clicks            int64
	LevelUps          int64
	Purchases         int64
	Sales             int64
	Resets            int64
	InsufficientFunds int64
	PurchaseLimit     int64

	// Gate metrics
	GateApproved  int64
	GateRejected  int64
	GateAbandoned int64

	// Persistence metrics
	Saves       int64
	SaveErrors  int64
	SaveLatSum  int64
	LoadErrors  int64
	SkippedSave int64 // Older snapshots superseded by a newer one

	// Bonus metrics
	BonusOffered int64
	BonusClaimed int64
	BonusExpired int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSErrors            int64

	// System
	StartTime time.Time
	mu        sync.RWMutex
}

// Global collector instance
var collector = New()

// Get returns the global collector.
func Get() *Collector {
	return collector
}

// New creates an empty collector. Tests use their own instance.
func New() *Collector {
	return &Collector{StartTime: time.Now()}
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))

	// Update max (non-atomic but acceptable for metrics)
	if int64(latency) > atomic.LoadInt64(&c.TickLatencyMax) {
		atomic.StoreInt64(&c.TickLatencyMax, int64(latency))
	}

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordClick records a manual click.
func (c *Collector) RecordClick() { atomic.AddInt64(&c.Clicks, 1) }

// RecordLevelUp records a successful level-up.
func (c *Collector) RecordLevelUp() { atomic.AddInt64(&c.LevelUps, 1) }

// RecordPurchase records a purchased or granted upgrade.
func (c *Collector) RecordPurchase() { atomic.AddInt64(&c.Purchases, 1) }

// RecordSale records sold upgrade units.
func (c *Collector) RecordSale(units int) { atomic.AddInt64(&c.Sales, int64(units)) }

// RecordReset records a full reset.
func (c *Collector) RecordReset() { atomic.AddInt64(&c.Resets, 1) }

// RecordPurchaseLimit records a purchase refused because the upgrade is at its cap.
func (c *Collector) RecordPurchaseLimit() { atomic.AddInt64(&c.PurchaseLimit, 1) }

// RecordInsufficientFunds records a spend refused for lack of cheese.
func (c *Collector) RecordInsufficientFunds() { atomic.AddInt64(&c.InsufficientFunds, 1) }

// RecordGate records a gate resolution.
func (c *Collector) RecordGate(approved bool) {
	if approved {
		atomic.AddInt64(&c.GateApproved, 1)
	} else {
		atomic.AddInt64(&c.GateRejected, 1)
	}
}

// RecordGateAbandoned records a gate request that was cancelled or timed out.
func (c *Collector) RecordGateAbandoned() { atomic.AddInt64(&c.GateAbandoned, 1) }

// RecordSave records a state write.
func (c *Collector) RecordSave(latency time.Duration, err error) {
	atomic.AddInt64(&c.Saves, 1)
	atomic.AddInt64(&c.SaveLatSum, int64(latency))
	if err != nil {
		atomic.AddInt64(&c.SaveErrors, 1)
	}
}

// RecordSkippedSave records a snapshot dropped because a newer one was already written.
func (c *Collector) RecordSkippedSave() { atomic.AddInt64(&c.SkippedSave, 1) }

// RecordLoadError records a failed state read.
func (c *Collector) RecordLoadError() { atomic.AddInt64(&c.LoadErrors, 1) }

// RecordBonusOffered records a bonus prompt.
func (c *Collector) RecordBonusOffered() { atomic.AddInt64(&c.BonusOffered, 1) }

// RecordBonusClaimed records a claimed bonus.
func (c *Collector) RecordBonusClaimed() { atomic.AddInt64(&c.BonusClaimed, 1) }

// RecordBonusExpired records a bonus left unclaimed.
func (c *Collector) RecordBonusExpired() { atomic.AddInt64(&c.BonusExpired, 1) }

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	lastTick := c.LastTickTime
	c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)
	saves := atomic.LoadInt64(&c.Saves)

	var tickAvg, saveAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if saves > 0 {
		saveAvg = float64(atomic.LoadInt64(&c.SaveLatSum)) / float64(saves) / 1e6
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"tick": map[string]interface{}{
			"count":          tickCount,
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      lastTick.Format(time.RFC3339),
		},

		"ledger": map[string]interface{}{
			"clicks":             atomic.LoadInt64(&c.Clicks),
			"level_ups":          atomic.LoadInt64(&c.LevelUps),
			"purchases":          atomic.LoadInt64(&c.Purchases),
			"sales":              atomic.LoadInt64(&c.Sales),
			"resets":             atomic.LoadInt64(&c.Resets),
			"insufficient_funds": atomic.LoadInt64(&c.InsufficientFunds),
			"purchase_limit":     atomic.LoadInt64(&c.PurchaseLimit),
		},

		"gate": map[string]interface{}{
			"approved":  atomic.LoadInt64(&c.GateApproved),
			"rejected":  atomic.LoadInt64(&c.GateRejected),
			"abandoned": atomic.LoadInt64(&c.GateAbandoned),
		},

		"persistence": map[string]interface{}{
			"saves":           saves,
			"save_errors":     atomic.LoadInt64(&c.SaveErrors),
			"skipped_saves":   atomic.LoadInt64(&c.SkippedSave),
			"load_errors":     atomic.LoadInt64(&c.LoadErrors),
			"avg_save_lat_ms": saveAvg,
		},

		"bonus": map[string]interface{}{
			"offered": atomic.LoadInt64(&c.BonusOffered),
			"claimed": atomic.LoadInt64(&c.BonusClaimed),
			"expired": atomic.LoadInt64(&c.BonusExpired),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// PrometheusHandler returns metrics in Prometheus format.
func (c *Collector) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s counter\n", name)
			fmt.Fprintf(w, "%s %d\n\n", name, v)
		}

		counter("cheese_tick_count", "Total tick cycles", atomic.LoadInt64(&c.TickCount))

		fmt.Fprintf(w, "# HELP cheese_tick_latency_max_ms Maximum tick latency\n")
		fmt.Fprintf(w, "# TYPE cheese_tick_latency_max_ms gauge\n")
		fmt.Fprintf(w, "cheese_tick_latency_max_ms %.2f\n\n", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		counter("cheese_clicks_total", "Manual clicks", atomic.LoadInt64(&c.Clicks))
		counter("cheese_level_ups_total", "Successful level-ups", atomic.LoadInt64(&c.LevelUps))
		counter("cheese_purchases_total", "Upgrades bought or granted", atomic.LoadInt64(&c.Purchases))
		counter("cheese_sales_total", "Upgrade units sold", atomic.LoadInt64(&c.Sales))
		counter("cheese_insufficient_funds_total", "Spends refused for lack of cheese", atomic.LoadInt64(&c.InsufficientFunds))
		counter("cheese_purchase_limit_total", "Purchases refused at the per-upgrade cap", atomic.LoadInt64(&c.PurchaseLimit))

		fmt.Fprintf(w, "# HELP cheese_gate_outcomes_total Gate resolutions by outcome\n")
		fmt.Fprintf(w, "# TYPE cheese_gate_outcomes_total counter\n")
		fmt.Fprintf(w, "cheese_gate_outcomes_total{outcome=\"approved\"} %d\n", atomic.LoadInt64(&c.GateApproved))
		fmt.Fprintf(w, "cheese_gate_outcomes_total{outcome=\"rejected\"} %d\n", atomic.LoadInt64(&c.GateRejected))
		fmt.Fprintf(w, "cheese_gate_outcomes_total{outcome=\"abandoned\"} %d\n\n", atomic.LoadInt64(&c.GateAbandoned))

		counter("cheese_saves_total", "State writes", atomic.LoadInt64(&c.Saves))
		counter("cheese_save_errors_total", "Failed state writes", atomic.LoadInt64(&c.SaveErrors))

		fmt.Fprintf(w, "# HELP cheese_bonus_total Bonus events by stage\n")
		fmt.Fprintf(w, "# TYPE cheese_bonus_total counter\n")
		fmt.Fprintf(w, "cheese_bonus_total{stage=\"offered\"} %d\n", atomic.LoadInt64(&c.BonusOffered))
		fmt.Fprintf(w, "cheese_bonus_total{stage=\"claimed\"} %d\n", atomic.LoadInt64(&c.BonusClaimed))
		fmt.Fprintf(w, "cheese_bonus_total{stage=\"expired\"} %d\n\n", atomic.LoadInt64(&c.BonusExpired))

		fmt.Fprintf(w, "# HELP cheese_ws_connections Active WebSocket connections\n")
		fmt.Fprintf(w, "# TYPE cheese_ws_connections gauge\n")
		fmt.Fprintf(w, "cheese_ws_connections %d\n\n", atomic.LoadInt64(&c.WSConnectionsActive))

		fmt.Fprintf(w, "# HELP cheese_ws_messages_total Total WebSocket messages\n")
		fmt.Fprintf(w, "# TYPE cheese_ws_messages_total counter\n")
		fmt.Fprintf(w, "cheese_ws_messages_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.WSMessagesIn))
		fmt.Fprintf(w, "cheese_ws_messages_total{direction=\"out\"} %d\n", atomic.LoadInt64(&c.WSMessagesOut))
	}
}
