// Package rules contains the pure calculation logic for the cheese economy.
// This package is PURE and must NOT import any infrastructure packages.
package rules

import (
	"math"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
)

// Params holds the tunable constants of the scaling curves.
type Params struct {
	Growth            float64 `json:"growth" yaml:"growth"`                         // Per-purchase exponential amplification (> 1)
	Damping           float64 `json:"damping" yaml:"damping"`                       // Weight of sqrt(n+1) in the damping factor
	CostConstant      float64 `json:"cost_constant" yaml:"costConstant"`            // Multiplier of the purchase-count polynomial
	CostExponent      float64 `json:"cost_exponent" yaml:"costExponent"`            // Degree of the purchase-count polynomial
	LevelCostBase     float64 `json:"level_cost_base" yaml:"levelCostBase"`         // Cost of leaving level 1
	LevelCostExponent float64 `json:"level_cost_exponent" yaml:"levelCostExponent"` // > 2.5 for superlinear growth
	CPCLevelExponent  float64 `json:"cpc_level_exponent" yaml:"cpcLevelExponent"`   // < 2
	CPSLevelExponent  float64 `json:"cps_level_exponent" yaml:"cpsLevelExponent"`   // < 2

	// MaxPurchases caps the units owned per upgrade; 0 means unlimited.
	// Past roughly 50 units an upgrade's effect outgrows its cubic price, so the
	// shipped cap sits below the first crossover (the 54th rocketLauncher).
	MaxPurchases int `json:"max_purchases" yaml:"maxPurchases"`
}

// DefaultParams returns the shipped balance.
func DefaultParams() Params {
	return Params{
		Growth:            1.15,
		Damping:           0.1,
		CostConstant:      10,
		CostExponent:      3,
		LevelCostBase:     50,
		LevelCostExponent: 2.8,
		CPCLevelExponent:  1.75,
		CPSLevelExponent:  1.5,
		MaxPurchases:      50,
	}
}

// CalculateUpgradeEffect returns the per-purchase contribution of the count-th purchase:
// floor(base * growth^count / (1 + sqrt(count+1) * damping)). Never negative.
func CalculateUpgradeEffect(p Params, baseValue float64, count int) int64 {
	if count <= 0 {
		return 0
	}
	damping := 1 + math.Sqrt(float64(count+1))*p.Damping
	v := math.Floor(baseValue * math.Pow(p.Growth, float64(count)) / damping)
	if v < 0 {
		return 0
	}
	return ToInt64(v)
}

// SumUpgradeEffects returns the total contribution of purchases 1..count, saturating at MaxInt64.
func SumUpgradeEffects(p Params, baseValue float64, count int) int64 {
	var sum int64
	for i := 1; i <= count && sum < math.MaxInt64; i++ {
		sum = AddSat(sum, CalculateUpgradeEffect(p, baseValue, i))
	}
	return sum
}

// CapPurchases clamps an owned count into [0, MaxPurchases].
func (p Params) CapPurchases(count int) int {
	if count < 0 {
		return 0
	}
	if p.MaxPurchases > 0 && count > p.MaxPurchases {
		return p.MaxPurchases
	}
	return count
}

// AtPurchaseLimit reports whether count units leave no room for another purchase.
func (p Params) AtPurchaseLimit(count int) bool {
	return p.MaxPurchases > 0 && count >= p.MaxPurchases
}

// CalculateUpgradeCost returns the price of the next purchase when count units are owned.
func CalculateUpgradeCost(p Params, def upgrade.Definition, count int) int64 {
	if count < 1 {
		return ToInt64(def.BaseCost)
	}
	return AddSat(ToInt64(math.Floor(p.CostConstant*math.Pow(float64(count), p.CostExponent))), ToInt64(def.BaseCost))
}

// CalculateLevelCost returns the price of leaving the given level.
func CalculateLevelCost(p Params, level int) int64 {
	if level < 2 {
		return ToInt64(p.LevelCostBase)
	}
	return ToInt64(math.Floor(p.LevelCostBase * math.Pow(float64(level), p.LevelCostExponent)))
}

// CalculateCPC returns cheese per click for a level plus the upgrade bonus.
func CalculateCPC(p Params, level int, asideCPC int64) int64 {
	if level < 2 {
		return AddSat(1, asideCPC)
	}
	l := float64(level)
	return AddSat(ToInt64(math.Ceil(l-1+math.Pow(l, p.CPCLevelExponent))), asideCPC)
}

// CalculateCPS returns cheese per second for a level plus the upgrade bonus.
func CalculateCPS(p Params, level int, asideCPS int64) int64 {
	if level < 2 {
		return asideCPS
	}
	return AddSat(ToInt64(math.Ceil(math.Pow(float64(level), p.CPSLevelExponent))), asideCPS)
}

// CalculateBoostedAside returns the aside value after a temporary boost:
// ceil(aside + relatedRate/10) * 2.
func CalculateBoostedAside(aside, relatedRate int64) int64 {
	v := ToInt64(math.Ceil(float64(aside) + float64(relatedRate)/10))
	if v > math.MaxInt64/2 {
		return math.MaxInt64
	}
	if v < math.MinInt64/2 {
		return math.MinInt64
	}
	return v * 2
}

// maxInt64f is 2^63, the first float64 that no longer fits an int64.
const maxInt64f = float64(math.MaxInt64)

// ToInt64 truncates v, saturating at the int64 bounds. NaN maps to 0.
func ToInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= maxInt64f:
		return math.MaxInt64
	case v <= -maxInt64f:
		return math.MinInt64
	}
	return int64(v)
}

// AddSat returns a+b clamped to the int64 range.
func AddSat(a, b int64) int64 {
	s := a + b
	if a > 0 && b > 0 && s < 0 {
		return math.MaxInt64
	}
	if a < 0 && b < 0 && s >= 0 {
		return math.MinInt64
	}
	return s
}
