package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/player"
	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/rules"
	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
	"github.com/MRamiBalles/CheeseClicker/server/internal/events"
	"github.com/MRamiBalles/CheeseClicker/server/internal/gate"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/metrics"
)

// markerRadius bounds marker placement around the centre of the normalized moon box.
const markerRadius = 0.44

// levelTarget reserves the level-up slot in the pending-approval set.
const levelTarget = "level"

// StateSaver persists committed snapshots. Versions grow with every commit.
type StateSaver interface {
	Save(version uint64, state *player.State)
}

// LedgerOptions wires a Ledger. Nil collaborators get harmless defaults.
type LedgerOptions struct {
	Catalog     *upgrade.Catalog
	Params      rules.Params
	Gate        gate.Gate
	GateTimeout time.Duration // 0 waits for the gate forever
	EventLog    *events.EventLog
	Logger      *logger.Logger
	Metrics     *metrics.Collector
	Saver       StateSaver
	Rand        *rand.Rand // Marker placement
}

type boost struct {
	deltaCPS int64
	deltaCPC int64
}

// SpendResult reports a gated spend.
type SpendResult struct {
	Outcome     gate.Outcome `json:"outcome,omitempty"`
	Cost        int64        `json:"cost"`
	Penalty     float64      `json:"penalty,omitempty"`
	Level       int          `json:"level"`
	TimesBought int          `json:"times_bought,omitempty"`
}

// SaleResult reports a sale.
type SaleResult struct {
	Units       int   `json:"units"`
	Refund      int64 `json:"refund"`
	TimesBought int   `json:"times_bought"`
}

// UpgradeView is what the UI shows for one catalog entry.
type UpgradeView struct {
	Key         upgrade.Key `json:"key"`
	Name        string      `json:"name"`
	TimesBought int         `json:"times_bought"`
	NextCost    int64       `json:"next_cost"`
	NextCPS     int64       `json:"next_cps"` // Gain of the next purchase
	NextCPC     int64       `json:"next_cpc"`
	SellRefund  int64       `json:"sell_refund"`     // 0 when nothing is owned
	Maxed       bool        `json:"maxed,omitempty"` // No further purchase is allowed
}

// Snapshot is a read-only view of the ledger, also the STATE_CHANGED payload.
// STATE_CHANGED carries Markers only on commits that changed them.
type Snapshot struct {
	Version      uint64          `json:"version"`
	Score        float64         `json:"score"`
	Level        int             `json:"level"`
	CPC          int64           `json:"cpc"`
	CPS          int64           `json:"cps"`
	LevelCost    int64           `json:"level_cost"`
	AsideCPS     int64           `json:"aside_cps"`
	AsideCPC     int64           `json:"aside_cpc"`
	Upgrades     []UpgradeView   `json:"upgrades"`
	Markers      []player.Marker `json:"markers,omitempty"`
	ActiveBoosts int             `json:"active_boosts"`
}

// Ledger owns the player state and applies every economy mutation atomically.
// Gate calls run with the lock released; each resolution charges the price captured at request time.
type Ledger struct {
	mu      sync.Mutex
	state   *player.State
	version uint64
	pending map[string]bool // Targets with an open approval
	boosts  map[string]boost
	rng     *rand.Rand

	// epoch changes on ResetAll and Restore; a gate resolution from an older epoch is dropped.
	epoch         uint64
	sentMarkerRev uint64

	catalog     *upgrade.Catalog
	params      rules.Params
	gate        gate.Gate
	gateTimeout time.Duration
	eventLog    *events.EventLog
	logger      *logger.Logger
	metrics     *metrics.Collector
	saver       StateSaver

	hookMu     sync.Mutex
	resetHooks []func()
}

// NewLedger creates a ledger holding a fresh level-1 state.
func NewLedger(opts LedgerOptions) *Ledger {
	if opts.Catalog == nil {
		opts.Catalog = upgrade.DefaultCatalog()
	}
	if opts.Params == (rules.Params{}) {
		opts.Params = rules.DefaultParams()
	}
	if opts.Gate == nil {
		opts.Gate = gate.Static(gate.Approved)
	}
	if opts.EventLog == nil {
		opts.EventLog = events.NewEventLog(events.DefaultCapacity)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	l := &Ledger{
		state:       player.NewState(opts.Catalog),
		pending:     make(map[string]bool),
		boosts:      make(map[string]boost),
		rng:         opts.Rand,
		catalog:     opts.Catalog,
		params:      opts.Params,
		gate:        opts.Gate,
		gateTimeout: opts.GateTimeout,
		eventLog:    opts.EventLog,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		saver:       opts.Saver,
	}
	l.state.Recompute(l.params)
	return l
}

// Catalog returns the upgrade catalog the ledger prices against.
func (l *Ledger) Catalog() *upgrade.Catalog {
	return l.catalog
}

// OnReset registers fn to run after every ResetAll.
func (l *Ledger) OnReset(fn func()) {
	l.hookMu.Lock()
	l.resetHooks = append(l.resetHooks, fn)
	l.hookMu.Unlock()
}

// Tick adds cps*delta to the score. Passive income is never gated and never counts as a click.
func (l *Ledger) Tick(delta float64) {
	if delta < 0 || math.IsNaN(delta) {
		delta = 0
	}
	l.mu.Lock()
	l.accrueLocked(float64(l.state.CPS)*delta, false)
	snap, v := l.commitLocked(events.ActorClock)
	l.mu.Unlock()
	l.save(v, snap)
}

// RegisterClick adds the current cpc to the score and returns the amount.
func (l *Ledger) RegisterClick() int64 {
	l.mu.Lock()
	amount := l.state.CPC
	l.accrueLocked(float64(amount), true)
	snap, v := l.commitLocked(events.ActorPlayer)
	l.mu.Unlock()

	l.metrics.RecordClick()
	l.save(v, snap)
	return amount
}

// accrueLocked is the shared accrual primitive. Only manual accrual emits MANUAL_CLICK.
func (l *Ledger) accrueLocked(amount float64, manual bool) {
	if amount > 0 {
		l.state.Score += amount
	}
	l.state.Recompute(l.params)
	if manual {
		l.eventLog.Emit(events.EventTypeManualClick, events.ActorPlayer, "", ClickPayload{
			Amount: int64(amount),
			Score:  l.state.Score,
		})
	}
}

// LevelUp asks the gate to approve leaving the current level. Approval charges the level cost;
// rejection charges half of it as a penalty. Abandonment mutates nothing.
func (l *Ledger) LevelUp(ctx context.Context) (SpendResult, error) {
	l.mu.Lock()
	cost := l.state.LevelCost
	res := SpendResult{Cost: cost, Level: l.state.Level}
	if l.state.Score < float64(cost) {
		err := l.insufficientLocked(gate.ActionLevelUp, "", cost)
		l.mu.Unlock()
		return res, err
	}
	if !l.reserveLocked(levelTarget) {
		l.mu.Unlock()
		return res, ErrRequestPending
	}
	epoch := l.epoch
	l.mu.Unlock()
	defer l.release(levelTarget)

	outcome, err := l.requestApproval(ctx, gate.Request{Action: gate.ActionLevelUp, Cost: cost})
	if err != nil {
		return res, err
	}

	l.mu.Lock()
	if l.epoch != epoch {
		res.Level = l.state.Level
		l.mu.Unlock()
		return res, l.staleResolution(gate.ActionLevelUp, "")
	}
	if outcome == gate.Approved {
		if !l.state.Spend(float64(cost)) {
			err := l.insufficientLocked(gate.ActionLevelUp, "", cost)
			res.Level = l.state.Level
			l.mu.Unlock()
			return res, err
		}
		l.state.Level++
		l.state.Recompute(l.params)
		l.eventLog.Emit(events.EventTypeLevelUp, events.ActorPlayer, "", LevelUpPayload{Level: l.state.Level, Cost: cost})
	} else {
		outcome = gate.Rejected
		res.Penalty = l.state.Penalize(float64(cost) / 2)
		l.state.Recompute(l.params)
		l.eventLog.Emit(events.EventTypeLevelUpRejected, events.ActorGate, "", LevelUpPayload{
			Level:   l.state.Level,
			Cost:    cost,
			Penalty: res.Penalty,
		})
	}
	res.Outcome = outcome
	res.Level = l.state.Level
	snap, v := l.commitLocked(events.ActorPlayer)
	l.mu.Unlock()

	if outcome == gate.Approved {
		l.metrics.RecordLevelUp()
		l.logger.Event("LEVEL_UP", events.ActorPlayer, fmt.Sprintf("Reached level %d for %s cheese", res.Level, humanize.Comma(cost)))
	} else {
		l.logger.Event("LEVEL_UP_REJECTED", events.ActorGate, fmt.Sprintf("Penalty of %s cheese", humanize.Commaf(res.Penalty)))
	}
	l.save(v, snap)
	return res, nil
}

// BuyUpgrade asks the gate to approve one purchase of key at its current price.
func (l *Ledger) BuyUpgrade(ctx context.Context, key upgrade.Key) (SpendResult, error) {
	def, ok := l.catalog.Lookup(key)
	if !ok {
		l.logger.Warnf("Ignoring purchase of unknown upgrade %q", key)
		return SpendResult{}, fmt.Errorf("%w: %q", ErrUnknownUpgrade, key)
	}
	target := string(key)

	l.mu.Lock()
	owned := l.state.TimesBought(key)
	cost := rules.CalculateUpgradeCost(l.params, def, owned)
	res := SpendResult{Cost: cost, Level: l.state.Level, TimesBought: owned}
	if l.params.AtPurchaseLimit(owned) {
		l.mu.Unlock()
		return res, l.limitError(key, owned)
	}
	if l.state.Score < float64(cost) {
		err := l.insufficientLocked(gate.ActionBuyUpgrade, target, cost)
		l.mu.Unlock()
		return res, err
	}
	if !l.reserveLocked(target) {
		l.mu.Unlock()
		return res, ErrRequestPending
	}
	epoch := l.epoch
	l.mu.Unlock()
	defer l.release(target)

	outcome, err := l.requestApproval(ctx, gate.Request{Action: gate.ActionBuyUpgrade, Target: target, Cost: cost})
	if err != nil {
		return res, err
	}

	l.mu.Lock()
	if l.epoch != epoch {
		res.Level, res.TimesBought = l.state.Level, l.state.TimesBought(key)
		l.mu.Unlock()
		return res, l.staleResolution(gate.ActionBuyUpgrade, target)
	}
	if outcome == gate.Approved {
		// A free grant may have filled the last slot while the gate was open.
		if n := l.state.TimesBought(key); l.params.AtPurchaseLimit(n) {
			res.TimesBought = n
			l.mu.Unlock()
			return res, l.limitError(key, n)
		}
		if !l.state.Spend(float64(cost)) {
			err := l.insufficientLocked(gate.ActionBuyUpgrade, target, cost)
			res.TimesBought = l.state.TimesBought(key)
			l.mu.Unlock()
			return res, err
		}
		res.TimesBought = l.applyPurchaseLocked(def, cost, false)
	} else {
		outcome = gate.Rejected
		res.Penalty = l.state.Penalize(float64(cost) / 2)
		l.state.Recompute(l.params)
		res.TimesBought = l.state.TimesBought(key)
		l.eventLog.Emit(events.EventTypeUpgradeRejected, events.ActorGate, target, PurchasePayload{
			Key:         key,
			TimesBought: res.TimesBought,
			Cost:        cost,
			Penalty:     res.Penalty,
		})
	}
	res.Outcome = outcome
	res.Level = l.state.Level
	snap, v := l.commitLocked(events.ActorPlayer)
	l.mu.Unlock()

	if outcome == gate.Approved {
		l.metrics.RecordPurchase()
		l.logger.Event("UPGRADE_PURCHASED", events.ActorPlayer, fmt.Sprintf("%s #%d for %s cheese", def.Name, res.TimesBought, humanize.Comma(cost)))
	}
	l.save(v, snap)
	return res, nil
}

// applyPurchaseLocked adds one unit of def, its effect at the new count and a marker.
func (l *Ledger) applyPurchaseLocked(def upgrade.Definition, cost int64, free bool) int {
	n := l.state.Upgrades[def.Key] + 1
	l.state.Upgrades[def.Key] = n
	l.state.AddAside(
		rules.CalculateUpgradeEffect(l.params, def.BaseCPS, n),
		rules.CalculateUpgradeEffect(l.params, def.BaseCPC, n),
	)
	l.state.Recompute(l.params)

	actor := events.ActorPlayer
	if free {
		actor = events.ActorBonus
	}
	l.eventLog.Emit(events.EventTypeUpgradePurchased, actor, string(def.Key), PurchasePayload{
		Key:         def.Key,
		TimesBought: n,
		Cost:        cost,
		Free:        free,
	})
	m := l.spawnMarkerLocked(def.Key)
	l.eventLog.Emit(events.EventTypeMarkerSpawn, actor, string(def.Key), MarkerPayload{Marker: m})
	return n
}

// SellUpgrade sells up to count units of key. Each unit removes its contribution and refunds
// half of the price it was bought at.
func (l *Ledger) SellUpgrade(key upgrade.Key, count int) (SaleResult, error) {
	def, ok := l.catalog.Lookup(key)
	if !ok {
		l.logger.Warnf("Ignoring sale of unknown upgrade %q", key)
		return SaleResult{}, fmt.Errorf("%w: %q", ErrUnknownUpgrade, key)
	}
	if count < 1 {
		return SaleResult{}, ErrInvalidCount
	}

	l.mu.Lock()
	owned := l.state.TimesBought(key)
	if owned == 0 {
		l.mu.Unlock()
		return SaleResult{}, fmt.Errorf("%w: %s", ErrNothingToSell, key)
	}

	res := SaleResult{Units: min(count, owned)}
	for i := 0; i < res.Units; i++ {
		n := l.state.Upgrades[key]
		l.state.AddAside(
			-rules.CalculateUpgradeEffect(l.params, def.BaseCPS, n),
			-rules.CalculateUpgradeEffect(l.params, def.BaseCPC, n),
		)
		refund := sellRefund(l.params, def, n)
		l.state.Upgrades[key] = n - 1
		l.state.Score += float64(refund)
		res.Refund += refund

		if m, ok := l.state.RemoveNewestMarker(key); ok {
			l.eventLog.Emit(events.EventTypeMarkerRemoveOne, events.ActorPlayer, string(key), MarkerPayload{Marker: m})
		}
	}
	l.state.Recompute(l.params)
	res.TimesBought = l.state.Upgrades[key]
	l.eventLog.Emit(events.EventTypeUpgradeSold, events.ActorPlayer, string(key), SalePayload{
		Key:         key,
		Units:       res.Units,
		Refund:      res.Refund,
		TimesBought: res.TimesBought,
	})
	snap, v := l.commitLocked(events.ActorPlayer)
	l.mu.Unlock()

	l.metrics.RecordSale(res.Units)
	l.logger.Event("UPGRADE_SOLD", events.ActorPlayer, fmt.Sprintf("%d x %s for %s cheese", res.Units, def.Name, humanize.Comma(res.Refund)))
	l.save(v, snap)
	return res, nil
}

// ResetAll clears all progression and runs the reset hooks. Callers confirm first.
func (l *Ledger) ResetAll() {
	l.mu.Lock()
	l.epoch++
	l.state.Reset()
	l.boosts = make(map[string]boost)
	l.state.Recompute(l.params)
	l.eventLog.Emit(events.EventTypeReset, events.ActorPlayer, "", nil)
	snap, v := l.commitLocked(events.ActorPlayer)
	l.mu.Unlock()

	l.hookMu.Lock()
	hooks := append([]func(){}, l.resetHooks...)
	l.hookMu.Unlock()
	for _, hook := range hooks {
		hook()
	}

	l.metrics.RecordReset()
	l.logger.Event("RESET", events.ActorPlayer, "All progression cleared")
	l.save(v, snap)
}

// RecomputeAside rebuilds the aside bonuses from owned counts plus active boosts.
func (l *Ledger) RecomputeAside() (asideCPS, asideCPC int64) {
	l.mu.Lock()
	l.rebuildAsideLocked()
	l.state.Recompute(l.params)
	asideCPS, asideCPC = l.state.AsideCPS, l.state.AsideCPC
	snap, v := l.commitLocked(events.ActorClock)
	l.mu.Unlock()
	l.save(v, snap)
	return asideCPS, asideCPC
}

func (l *Ledger) rebuildAsideLocked() {
	var cps, cpc int64
	for _, def := range l.catalog.Definitions() {
		n := l.state.Upgrades[def.Key]
		cps = rules.AddSat(cps, rules.SumUpgradeEffects(l.params, def.BaseCPS, n))
		cpc = rules.AddSat(cpc, rules.SumUpgradeEffects(l.params, def.BaseCPC, n))
	}
	for _, b := range l.boosts {
		cps = rules.AddSat(cps, b.deltaCPS)
		cpc = rules.AddSat(cpc, b.deltaCPC)
	}
	l.state.AsideCPS, l.state.AsideCPC = cps, cpc
}

// Restore replaces the state with a persisted one. Unknown keys are dropped, counts are
// clamped to the purchase cap, aside bonuses are rebuilt from counts and markers are
// reconciled with counts.
func (l *Ledger) Restore(score float64, level int, counts map[upgrade.Key]int, markers []player.Marker) {
	l.mu.Lock()
	l.epoch++
	st := player.NewState(l.catalog)
	st.MarkerRev = l.state.MarkerRev + 1
	if score > 0 && !math.IsInf(score, 0) {
		st.Score = score
	}
	if level > 1 {
		st.Level = level
	}
	for k, n := range counts {
		if _, ok := l.catalog.Lookup(k); !ok {
			l.logger.Warnf("Dropping saved count for unknown upgrade %q", k)
			continue
		}
		if capped := l.params.CapPurchases(n); capped != n && n > 0 {
			l.logger.Warnf("Clamping saved count of %q from %d to %d", k, n, capped)
			n = capped
		}
		if n > 0 {
			st.Upgrades[k] = n
		}
	}
	l.state = st
	l.boosts = make(map[string]boost)
	l.reconcileMarkersLocked(markers)
	l.rebuildAsideLocked()
	l.state.Recompute(l.params)
	snap, v := l.commitLocked(events.ActorClock)
	l.mu.Unlock()

	l.logger.Infof("Restored level %d with %s cheese", snap.Level, humanize.Commaf(math.Floor(snap.Score)))
	l.save(v, snap)
}

// reconcileMarkersLocked keeps the oldest saved markers up to each owned count and spawns the rest.
func (l *Ledger) reconcileMarkersLocked(saved []player.Marker) {
	total := 0
	for _, n := range l.state.Upgrades {
		total += n
	}
	markers := make([]player.Marker, 0, total)
	kept := make(map[upgrade.Key]int)
	for _, m := range saved {
		if kept[m.Key] >= l.state.Upgrades[m.Key] {
			continue
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		kept[m.Key]++
		markers = append(markers, m)
	}
	for _, key := range l.catalog.Keys() {
		for i := kept[key]; i < l.state.Upgrades[key]; i++ {
			markers = append(markers, l.newMarkerLocked(key))
		}
	}
	l.state.Markers = markers
	l.state.MarkerRev++
}

// GrantLumpSum adds max(floor, ceil(cps*seconds + cpc*clicks)) to the score and returns it.
func (l *Ledger) GrantLumpSum(floor, seconds, clicks float64) int64 {
	l.mu.Lock()
	amount := rules.ToInt64(math.Max(floor, math.Ceil(float64(l.state.CPS)*seconds+float64(l.state.CPC)*clicks)))
	l.state.Score += float64(amount)
	l.state.Recompute(l.params)
	snap, v := l.commitLocked(events.ActorBonus)
	l.mu.Unlock()
	l.save(v, snap)
	return amount
}

// ApplyBoost raises the chosen aside bonuses to ceil(aside + rate/10)*2 and remembers the
// added delta under id until RevertBoost.
func (l *Ledger) ApplyBoost(id string, cps, cpc bool) (deltaCPS, deltaCPC int64) {
	l.mu.Lock()
	if cps {
		deltaCPS = rules.CalculateBoostedAside(l.state.AsideCPS, l.state.CPS) - l.state.AsideCPS
	}
	if cpc {
		deltaCPC = rules.CalculateBoostedAside(l.state.AsideCPC, l.state.CPC) - l.state.AsideCPC
	}
	l.state.AddAside(deltaCPS, deltaCPC)
	l.boosts[id] = boost{deltaCPS: deltaCPS, deltaCPC: deltaCPC}
	l.state.Recompute(l.params)
	snap, v := l.commitLocked(events.ActorBonus)
	l.mu.Unlock()
	l.save(v, snap)
	return deltaCPS, deltaCPC
}

// RevertBoost subtracts the delta recorded for id. It reports false if the boost is gone,
// e.g. after a reset.
func (l *Ledger) RevertBoost(id string) (deltaCPS, deltaCPC int64, ok bool) {
	l.mu.Lock()
	b, ok := l.boosts[id]
	if !ok {
		l.mu.Unlock()
		return 0, 0, false
	}
	delete(l.boosts, id)
	l.state.AddAside(-b.deltaCPS, -b.deltaCPC)
	l.state.Recompute(l.params)
	snap, v := l.commitLocked(events.ActorBonus)
	l.mu.Unlock()
	l.save(v, snap)
	return b.deltaCPS, b.deltaCPC, true
}

// GrantFreeUpgrade adds one unit of key at no cost and without the gate.
func (l *Ledger) GrantFreeUpgrade(key upgrade.Key) (int, error) {
	def, ok := l.catalog.Lookup(key)
	if !ok {
		l.logger.Warnf("Ignoring free grant of unknown upgrade %q", key)
		return 0, fmt.Errorf("%w: %q", ErrUnknownUpgrade, key)
	}
	l.mu.Lock()
	if owned := l.state.TimesBought(key); l.params.AtPurchaseLimit(owned) {
		l.mu.Unlock()
		return owned, l.limitError(key, owned)
	}
	n := l.applyPurchaseLocked(def, 0, true)
	snap, v := l.commitLocked(events.ActorBonus)
	l.mu.Unlock()

	l.logger.Event("FREE_UPGRADE", events.ActorBonus, fmt.Sprintf("%s #%d", def.Name, n))
	l.save(v, snap)
	return n, nil
}

// OpenSlots returns the keys that can still take one more unit, in catalog order.
func (l *Ledger) OpenSlots() []upgrade.Key {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]upgrade.Key, 0, l.catalog.Len())
	for _, k := range l.catalog.Keys() {
		if !l.params.AtPurchaseLimit(l.state.Upgrades[k]) {
			keys = append(keys, k)
		}
	}
	return keys
}

// State returns a copy of the player state.
func (l *Ledger) State() *player.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Snapshot returns the current view.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewLocked(true)
}

func (l *Ledger) viewLocked(withMarkers bool) Snapshot {
	s := l.state
	views := make([]UpgradeView, 0, l.catalog.Len())
	for _, def := range l.catalog.Definitions() {
		n := s.Upgrades[def.Key]
		views = append(views, UpgradeView{
			Key:         def.Key,
			Name:        def.Name,
			TimesBought: n,
			NextCost:    rules.CalculateUpgradeCost(l.params, def, n),
			NextCPS:     rules.CalculateUpgradeEffect(l.params, def.BaseCPS, n+1),
			NextCPC:     rules.CalculateUpgradeEffect(l.params, def.BaseCPC, n+1),
			SellRefund:  sellRefund(l.params, def, n),
			Maxed:       l.params.AtPurchaseLimit(n),
		})
	}
	snap := Snapshot{
		Version:      l.version,
		Score:        s.Score,
		Level:        s.Level,
		CPC:          s.CPC,
		CPS:          s.CPS,
		LevelCost:    s.LevelCost,
		AsideCPS:     s.AsideCPS,
		AsideCPC:     s.AsideCPC,
		Upgrades:     views,
		ActiveBoosts: len(l.boosts),
	}
	if withMarkers {
		// Shared; markers are never modified in place.
		snap.Markers = s.Markers
	}
	return snap
}

// commitLocked bumps the version, emits STATE_CHANGED and returns the snapshot to persist.
func (l *Ledger) commitLocked(actor string) (*player.State, uint64) {
	l.version++
	changed := l.state.MarkerRev != l.sentMarkerRev
	l.sentMarkerRev = l.state.MarkerRev
	l.eventLog.Emit(events.EventTypeStateChanged, actor, "", l.viewLocked(changed))
	return l.state.Clone(), l.version
}

func (l *Ledger) save(version uint64, snap *player.State) {
	if l.saver != nil {
		l.saver.Save(version, snap)
	}
}

func (l *Ledger) spawnMarkerLocked(key upgrade.Key) player.Marker {
	m := l.newMarkerLocked(key)
	l.state.AddMarker(m)
	return m
}

// newMarkerLocked places a marker uniformly inside the moon disc.
func (l *Ledger) newMarkerLocked(key upgrade.Key) player.Marker {
	angle := l.rng.Float64() * 2 * math.Pi
	r := markerRadius * math.Sqrt(l.rng.Float64())
	return player.Marker{
		ID:  uuid.NewString(),
		Key: key,
		RX:  0.5 + r*math.Cos(angle),
		RY:  0.5 + r*math.Sin(angle),
	}
}

func (l *Ledger) insufficientLocked(action gate.Action, target string, cost int64) error {
	score := l.state.Score
	l.eventLog.Emit(events.EventTypeInsufficientFunds, events.ActorPlayer, target, InsufficientFundsPayload{
		Action: action,
		Target: target,
		Cost:   cost,
		Score:  score,
	})
	l.metrics.RecordInsufficientFunds()
	return fmt.Errorf("%w: need %s cheese, have %s", ErrInsufficientFunds, humanize.Comma(cost), humanize.Commaf(math.Floor(score)))
}

func (l *Ledger) limitError(key upgrade.Key, owned int) error {
	l.metrics.RecordPurchaseLimit()
	return fmt.Errorf("%w: %s already at %d", ErrPurchaseLimit, key, owned)
}

// staleResolution drops a gate outcome that arrived after the progress it priced was reset.
func (l *Ledger) staleResolution(action gate.Action, target string) error {
	l.metrics.RecordGateAbandoned()
	l.logger.Warnf("Dropping gate resolution for %s %s: progress was reset", action, target)
	return fmt.Errorf("%w: progress was reset", ErrGateAbandoned)
}

func (l *Ledger) reserveLocked(target string) bool {
	if l.pending[target] {
		return false
	}
	l.pending[target] = true
	return true
}

func (l *Ledger) release(target string) {
	l.mu.Lock()
	delete(l.pending, target)
	l.mu.Unlock()
}

func (l *Ledger) requestApproval(ctx context.Context, req gate.Request) (gate.Outcome, error) {
	if l.gateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.gateTimeout)
		defer cancel()
	}
	outcome, err := l.gate.RequestApproval(ctx, req)
	if err != nil {
		l.metrics.RecordGateAbandoned()
		l.logger.Warnf("Gate request for %s abandoned: %v", req.Action, err)
		return "", fmt.Errorf("%w: %w", ErrGateAbandoned, err)
	}
	l.metrics.RecordGate(outcome == gate.Approved)
	return outcome, nil
}

// sellRefund is half the price the most recent of owned units was bought at.
func sellRefund(p rules.Params, def upgrade.Definition, owned int) int64 {
	if owned < 1 {
		return 0
	}
	return rules.CalculateUpgradeCost(p, def, owned-1) / 2
}
