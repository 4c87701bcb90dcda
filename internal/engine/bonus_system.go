package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
	"github.com/MRamiBalles/CheeseClicker/server/internal/events"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/config"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/metrics"
)

// BonusKind is the outcome drawn when an offer is claimed.
type BonusKind string

const (
	BonusLumpSum     BonusKind = "LUMP_SUM"
	BonusCPSBoost    BonusKind = "CPS_BOOST"
	BonusCPCBoost    BonusKind = "CPC_BOOST"
	BonusDoubleBoost BonusKind = "DOUBLE_BOOST"
	BonusFreeUpgrade BonusKind = "FREE_UPGRADE"
)

// BonusOffer is a claimable prompt. It expires unclaimed after the claim window.
type BonusOffer struct {
	ID        string    `json:"id"`
	OfferedAt time.Time `json:"offered_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BonusOutcome is the data for EventTypeBonusResolved.
type BonusOutcome struct {
	OfferID     string      `json:"offer_id"`
	Kind        BonusKind   `json:"kind"`
	Amount      int64       `json:"amount,omitempty"`   // Lump sum
	BoostID     string      `json:"boost_id,omitempty"` // Timed boosts
	DeltaCPS    int64       `json:"delta_cps,omitempty"`
	DeltaCPC    int64       `json:"delta_cpc,omitempty"`
	EndsAt      time.Time   `json:"ends_at,omitempty"`
	Key         upgrade.Key `json:"key,omitempty"` // Free upgrade
	TimesBought int         `json:"times_bought,omitempty"`
}

type pendingOffer struct {
	offer BonusOffer
	timer *time.Timer
}

// BonusSystem schedules random bonus offers and applies the claimed outcomes to the ledger.
// Boosts are additive deltas, each reverted by its own timer; a reset cancels all of them.
type BonusSystem struct {
	mu      sync.Mutex
	cfg     config.BonusConfig
	ledger  *Ledger
	rng     *rand.Rand
	offers  map[string]*pendingOffer
	reverts map[string]*time.Timer

	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector
}

// NewBonusSystem creates a scheduler bound to ledger and registers its reset hook.
// Nil collaborators fall back to the ledger's.
func NewBonusSystem(cfg config.BonusConfig, ledger *Ledger, rng *rand.Rand, eventLog *events.EventLog, log *logger.Logger, m *metrics.Collector) *BonusSystem {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if eventLog == nil {
		eventLog = ledger.eventLog
	}
	if log == nil {
		log = ledger.logger
	}
	if m == nil {
		m = ledger.metrics
	}
	bs := &BonusSystem{
		cfg:      cfg,
		ledger:   ledger,
		rng:      rng,
		offers:   make(map[string]*pendingOffer),
		reverts:  make(map[string]*time.Timer),
		eventLog: eventLog,
		logger:   log,
		metrics:  m,
	}
	ledger.OnReset(bs.cancelAll)
	return bs
}

// Start offers bonuses at random intervals until ctx is done. Call in a goroutine.
func (bs *BonusSystem) Start(ctx context.Context) {
	bs.logger.Info("Bonus scheduler started")
	for {
		timer := time.NewTimer(bs.nextInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			bs.cancelAll()
			bs.logger.Info("Bonus scheduler stopped by context.")
			return
		case <-timer.C:
			bs.Offer()
		}
	}
}

// nextInterval is uniform in [MinInterval, MaxInterval].
func (bs *BonusSystem) nextInterval() time.Duration {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	span := bs.cfg.MaxInterval - bs.cfg.MinInterval
	if span <= 0 {
		return bs.cfg.MinInterval
	}
	return bs.cfg.MinInterval + time.Duration(bs.rng.Int63n(int64(span)+1))
}

// Offer publishes a new claimable offer and arms its expiry.
func (bs *BonusSystem) Offer() BonusOffer {
	now := time.Now()
	offer := BonusOffer{
		ID:        uuid.NewString(),
		OfferedAt: now,
		ExpiresAt: now.Add(bs.cfg.ClaimWindow),
	}

	bs.mu.Lock()
	bs.offers[offer.ID] = &pendingOffer{
		offer: offer,
		timer: time.AfterFunc(bs.cfg.ClaimWindow, func() { bs.expire(offer.ID) }),
	}
	bs.mu.Unlock()

	bs.eventLog.Emit(events.EventTypeBonusOffered, events.ActorBonus, offer.ID, BonusOfferPayload{
		OfferID:   offer.ID,
		ExpiresAt: offer.ExpiresAt,
	})
	bs.metrics.RecordBonusOffered()
	bs.logger.Event("BONUS_OFFERED", events.ActorBonus, "Offer "+offer.ID+" open for "+bs.cfg.ClaimWindow.String())
	return offer
}

func (bs *BonusSystem) expire(offerID string) {
	bs.mu.Lock()
	p, ok := bs.offers[offerID]
	if ok {
		delete(bs.offers, offerID)
	}
	bs.mu.Unlock()
	if !ok {
		return
	}

	bs.eventLog.Emit(events.EventTypeBonusExpired, events.ActorBonus, offerID, BonusOfferPayload{
		OfferID:   offerID,
		ExpiresAt: p.offer.ExpiresAt,
	})
	bs.metrics.RecordBonusExpired()
}

// Claim resolves an open offer with a weighted random outcome.
func (bs *BonusSystem) Claim(offerID string) (BonusOutcome, error) {
	bs.mu.Lock()
	p, ok := bs.offers[offerID]
	if !ok {
		bs.mu.Unlock()
		return BonusOutcome{}, fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
	}
	p.timer.Stop()
	delete(bs.offers, offerID)

	out := BonusOutcome{OfferID: offerID, Kind: bs.drawLocked()}
	bs.mu.Unlock()

	if out.Kind == BonusFreeUpgrade {
		// Upgrades at their cap cannot be granted; with none left the claim pays out cheese.
		if open := bs.ledger.OpenSlots(); len(open) > 0 {
			bs.mu.Lock()
			out.Key = open[bs.rng.Intn(len(open))]
			bs.mu.Unlock()
		} else {
			out.Kind = BonusLumpSum
		}
	}

	switch out.Kind {
	case BonusCPSBoost, BonusCPCBoost, BonusDoubleBoost:
		bs.startBoost(&out)
	case BonusFreeUpgrade:
		n, err := bs.ledger.GrantFreeUpgrade(out.Key)
		if errors.Is(err, ErrPurchaseLimit) {
			out.Kind, out.Key = BonusLumpSum, ""
			break
		}
		if err != nil {
			return out, err
		}
		out.TimesBought = n
	}
	if out.Kind == BonusLumpSum {
		out.Amount = bs.ledger.GrantLumpSum(bs.cfg.LumpSumFloor, bs.cfg.LumpSumSeconds, bs.cfg.LumpSumClicks)
	}

	bs.eventLog.Emit(events.EventTypeBonusResolved, events.ActorBonus, offerID, out)
	bs.metrics.RecordBonusClaimed()
	bs.logger.Event("BONUS_RESOLVED", events.ActorBonus, describeOutcome(out))
	return out, nil
}

func (bs *BonusSystem) startBoost(out *BonusOutcome) {
	id := uuid.NewString()
	out.BoostID = id
	out.DeltaCPS, out.DeltaCPC = bs.ledger.ApplyBoost(id, out.Kind != BonusCPCBoost, out.Kind != BonusCPSBoost)
	out.EndsAt = time.Now().Add(bs.cfg.BoostDuration)

	bs.mu.Lock()
	bs.reverts[id] = time.AfterFunc(bs.cfg.BoostDuration, func() { bs.endBoost(id) })
	bs.mu.Unlock()
}

func (bs *BonusSystem) endBoost(boostID string) {
	bs.mu.Lock()
	delete(bs.reverts, boostID)
	bs.mu.Unlock()

	deltaCPS, deltaCPC, ok := bs.ledger.RevertBoost(boostID)
	if !ok {
		return
	}
	bs.eventLog.Emit(events.EventTypeBonusEnded, events.ActorBonus, boostID, BonusEndedPayload{
		BoostID:  boostID,
		DeltaCPS: deltaCPS,
		DeltaCPC: deltaCPC,
	})
}

// drawLocked picks an outcome kind by weight. All-zero weights mean lump sum.
func (bs *BonusSystem) drawLocked() BonusKind {
	w := bs.cfg.Weights
	table := []struct {
		kind   BonusKind
		weight float64
	}{
		{BonusLumpSum, w.LumpSum},
		{BonusCPSBoost, w.CPSBoost},
		{BonusCPCBoost, w.CPCBoost},
		{BonusDoubleBoost, w.DoubleBoost},
		{BonusFreeUpgrade, w.FreeUpgrade},
	}
	var total float64
	for _, e := range table {
		total += e.weight
	}
	if total <= 0 {
		return BonusLumpSum
	}
	r := bs.rng.Float64() * total
	for _, e := range table {
		if e.weight <= 0 {
			continue
		}
		if r < e.weight {
			return e.kind
		}
		r -= e.weight
	}
	// Rounding left r at the top edge; take the last weighted kind.
	for i := len(table) - 1; i >= 0; i-- {
		if table[i].weight > 0 {
			return table[i].kind
		}
	}
	return BonusLumpSum
}

// cancelAll withdraws every open offer and pending revert.
func (bs *BonusSystem) cancelAll() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for id, p := range bs.offers {
		p.timer.Stop()
		delete(bs.offers, id)
	}
	for id, t := range bs.reverts {
		t.Stop()
		delete(bs.reverts, id)
	}
}

// Active returns the open offers, oldest first.
func (bs *BonusSystem) Active() []BonusOffer {
	bs.mu.Lock()
	out := make([]BonusOffer, 0, len(bs.offers))
	for _, p := range bs.offers {
		out = append(out, p.offer)
	}
	bs.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OfferedAt.Before(out[j].OfferedAt) })
	return out
}

// PendingReverts reports how many boosts are waiting to be reverted.
func (bs *BonusSystem) PendingReverts() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return len(bs.reverts)
}

func describeOutcome(out BonusOutcome) string {
	switch out.Kind {
	case BonusLumpSum:
		return fmt.Sprintf("Lump sum of %s cheese", humanize.Comma(out.Amount))
	case BonusFreeUpgrade:
		return fmt.Sprintf("Free %s (now %d)", out.Key, out.TimesBought)
	default:
		return fmt.Sprintf("%s +%d cps +%d cpc until %s", out.Kind, out.DeltaCPS, out.DeltaCPC, out.EndsAt.Format(time.Kitchen))
	}
}
