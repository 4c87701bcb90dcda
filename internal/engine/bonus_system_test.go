package engine

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/rules"
	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
	"github.com/MRamiBalles/CheeseClicker/server/internal/events"
	"github.com/MRamiBalles/CheeseClicker/server/internal/gate"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/config"
)

func bonusConfig(w config.BonusWeights) config.BonusConfig {
	cfg := config.DefaultConfig().Bonus
	cfg.Weights = w
	cfg.ClaimWindow = time.Minute
	cfg.BoostDuration = time.Minute
	return cfg
}

func newTestBonus(w config.BonusWeights) (*BonusSystem, *Ledger, *events.EventLog) {
	l, el, _ := newTestLedger(gate.Static(gate.Approved))
	bs := NewBonusSystem(bonusConfig(w), l, rand.New(rand.NewSource(1)), nil, nil, nil)
	return bs, l, el
}

func TestClaimLumpSum(t *testing.T) {
	bs, l, el := newTestBonus(config.BonusWeights{LumpSum: 1})
	offer := bs.Offer()

	out, err := bs.Claim(offer.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if out.Kind != BonusLumpSum || out.Amount != 50 {
		t.Errorf("Expected lump sum of 50, got %+v", out)
	}
	if s := l.State(); s.Score != 50 {
		t.Errorf("Expected 50 cheese, got %v", s.Score)
	}
	if _, err := bs.Claim(offer.ID); !errors.Is(err, ErrOfferNotFound) {
		t.Errorf("Expected second claim to fail, got %v", err)
	}
	if len(el.GetByType(events.EventTypeBonusOffered)) != 1 || len(el.GetByType(events.EventTypeBonusResolved)) != 1 {
		t.Errorf("Expected one offer and one resolution event")
	}
}

func TestClaimBoosts(t *testing.T) {
	cases := []struct {
		name     string
		weights  config.BonusWeights
		kind     BonusKind
		deltaCPS int64
		deltaCPC int64
	}{
		{"cps", config.BonusWeights{CPSBoost: 1}, BonusCPSBoost, 3, 0},
		{"cpc", config.BonusWeights{CPCBoost: 1}, BonusCPCBoost, 0, 4},
		{"double", config.BonusWeights{DoubleBoost: 1}, BonusDoubleBoost, 3, 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			bs, l, el := newTestBonus(c.weights)
			l.Restore(0, 1, map[upgrade.Key]int{upgrade.KeyPointer: 1}, nil)

			out, err := bs.Claim(bs.Offer().ID)
			if err != nil {
				t.Fatalf("Claim failed: %v", err)
			}
			if out.Kind != c.kind || out.DeltaCPS != c.deltaCPS || out.DeltaCPC != c.deltaCPC {
				t.Errorf("Unexpected outcome: %+v", out)
			}
			s := l.State()
			if s.AsideCPS != 1+c.deltaCPS || s.AsideCPC != 2+c.deltaCPC {
				t.Errorf("Unexpected boosted aside %d/%d", s.AsideCPS, s.AsideCPC)
			}
			if bs.PendingReverts() != 1 {
				t.Errorf("Expected one pending revert, got %d", bs.PendingReverts())
			}

			bs.endBoost(out.BoostID)
			if s := l.State(); s.AsideCPS != 1 || s.AsideCPC != 2 {
				t.Errorf("Expected aside 1/2 after the boost, got %d/%d", s.AsideCPS, s.AsideCPC)
			}
			if bs.PendingReverts() != 0 || len(el.GetByType(events.EventTypeBonusEnded)) != 1 {
				t.Errorf("Expected the revert to be consumed and announced")
			}
		})
	}
}

func TestClaimFreeUpgrade(t *testing.T) {
	bs, l, _ := newTestBonus(config.BonusWeights{FreeUpgrade: 1})

	out, err := bs.Claim(bs.Offer().ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if out.Kind != BonusFreeUpgrade || out.TimesBought != 1 {
		t.Errorf("Unexpected outcome: %+v", out)
	}
	if _, ok := l.Catalog().Lookup(out.Key); !ok {
		t.Fatalf("Free upgrade drew unknown key %q", out.Key)
	}
	if s := l.State(); s.TimesBought(out.Key) != 1 || s.Score != 0 {
		t.Errorf("Expected one free %s, got %+v", out.Key, s)
	}
}

func TestClaimFreeUpgradeRespectsPurchaseCap(t *testing.T) {
	bs, l, _ := newTestBonus(config.BonusWeights{FreeUpgrade: 1})
	limit := rules.DefaultParams().MaxPurchases
	counts := make(map[upgrade.Key]int)
	for _, k := range l.Catalog().Keys() {
		counts[k] = limit
	}
	counts[upgrade.KeyCosmicCow] = 3
	l.Restore(0, 1, counts, nil)

	for i := 0; i < 5; i++ {
		out, err := bs.Claim(bs.Offer().ID)
		if err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if out.Kind != BonusFreeUpgrade || out.Key != upgrade.KeyCosmicCow {
			t.Fatalf("Expected a free cosmic cow, got %+v", out)
		}
	}

	// Every upgrade is capped now, so the claim pays cheese instead.
	counts[upgrade.KeyCosmicCow] = limit
	l.Restore(0, 1, counts, nil)
	out, err := bs.Claim(bs.Offer().ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if out.Kind != BonusLumpSum || out.Key != "" || out.Amount <= 0 {
		t.Errorf("Expected a lump sum fallback, got %+v", out)
	}
	if s := l.State(); s.TimesBought(upgrade.KeyCosmicCow) != limit || s.Score != float64(out.Amount) {
		t.Errorf("Fallback mutated counts or lost the payout: %+v", s)
	}
}

func TestZeroWeightsFallBackToLumpSum(t *testing.T) {
	bs, _, _ := newTestBonus(config.BonusWeights{})
	for i := 0; i < 10; i++ {
		if k := bs.drawLocked(); k != BonusLumpSum {
			t.Fatalf("Expected lump sum, got %s", k)
		}
	}
}

func TestResetCancelsOffersAndReverts(t *testing.T) {
	bs, l, _ := newTestBonus(config.BonusWeights{CPSBoost: 1})
	l.Restore(0, 1, map[upgrade.Key]int{upgrade.KeyPointer: 1}, nil)

	out, err := bs.Claim(bs.Offer().ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	bs.Offer()
	if len(bs.Active()) != 1 || bs.PendingReverts() != 1 {
		t.Fatalf("Expected one open offer and one pending revert")
	}

	l.ResetAll()
	if len(bs.Active()) != 0 || bs.PendingReverts() != 0 {
		t.Errorf("Reset must withdraw offers and reverts")
	}

	// A revert that raced the reset finds nothing to undo.
	l.Restore(0, 1, map[upgrade.Key]int{upgrade.KeyPointer: 1}, nil)
	bs.endBoost(out.BoostID)
	if s := l.State(); s.AsideCPS != 1 {
		t.Errorf("Stale revert changed aside to %d", s.AsideCPS)
	}
}

func TestOfferExpires(t *testing.T) {
	bs, _, el := newTestBonus(config.BonusWeights{LumpSum: 1})
	bs.cfg.ClaimWindow = 10 * time.Millisecond
	ch, cancel := el.Subscribe(16)
	defer cancel()

	offer := bs.Offer()
	deadline := time.After(2 * time.Second)
	for expired := false; !expired; {
		select {
		case e := <-ch:
			expired = e.Type == events.EventTypeBonusExpired && e.TargetID == offer.ID
		case <-deadline:
			t.Fatalf("Offer did not expire")
		}
	}
	if _, err := bs.Claim(offer.ID); !errors.Is(err, ErrOfferNotFound) {
		t.Errorf("Expected expired offer to be unclaimable, got %v", err)
	}
}

func TestNextIntervalWithinBounds(t *testing.T) {
	bs, _, _ := newTestBonus(config.BonusWeights{LumpSum: 1})
	for i := 0; i < 50; i++ {
		d := bs.nextInterval()
		if d < bs.cfg.MinInterval || d > bs.cfg.MaxInterval {
			t.Fatalf("Interval %v outside [%v, %v]", d, bs.cfg.MinInterval, bs.cfg.MaxInterval)
		}
	}
}
