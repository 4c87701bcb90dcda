// Package player defines the mutable progression state of the single player.
// This package is PURE and must NOT import any infrastructure packages (network, events, platform).
package player

import (
	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/rules"
	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
)

// Marker is a decorative ownership marker placed on the moon for one owned upgrade unit.
// RX and RY are normalized to the moon's bounding box (0..1).
type Marker struct {
	ID  string      `json:"id"`
	Key upgrade.Key `json:"key"`
	RX  float64     `json:"rx"`
	RY  float64     `json:"ry"`
}

// State represents the progression of the player.
type State struct {
	Score float64 `json:"score"` // Never negative
	Level int     `json:"level"` // Starts at 1

	// Owned counts per upgrade key (timesBought)
	Upgrades map[upgrade.Key]int `json:"upgrades"`

	// Aggregate bonus of every owned upgrade (plus active boosts)
	AsideCPS int64 `json:"aside_cps"`
	AsideCPC int64 `json:"aside_cpc"`

	// Derived by Recompute
	CPC       int64 `json:"cpc"`
	CPS       int64 `json:"cps"`
	LevelCost int64 `json:"level_cost"`

	// Markers is copy-on-write: it is replaced, never modified in place, so
	// clones may share it. MarkerRev changes whenever it is replaced.
	Markers   []Marker `json:"markers"`
	MarkerRev uint64   `json:"-"`
}

// NewState creates a fresh level-1 state with every catalog entry at zero.
func NewState(catalog *upgrade.Catalog) *State {
	s := &State{
		Level:    1,
		Upgrades: make(map[upgrade.Key]int, catalog.Len()),
		Markers:  make([]Marker, 0),
	}
	for _, k := range catalog.Keys() {
		s.Upgrades[k] = 0
	}
	return s
}

// Recompute refreshes CPC, CPS and LevelCost from level and aside bonuses.
func (s *State) Recompute(p rules.Params) {
	s.CPC = rules.CalculateCPC(p, s.Level, s.AsideCPC)
	s.CPS = rules.CalculateCPS(p, s.Level, s.AsideCPS)
	s.LevelCost = rules.CalculateLevelCost(p, s.Level)
}

// TimesBought returns the owned count of an upgrade.
func (s *State) TimesBought(key upgrade.Key) int {
	return s.Upgrades[key]
}

// Reset returns the state to its initial values, keeping catalog keys.
func (s *State) Reset() {
	s.Score = 0
	s.Level = 1
	s.AsideCPS = 0
	s.AsideCPC = 0
	for k := range s.Upgrades {
		s.Upgrades[k] = 0
	}
	s.Markers = make([]Marker, 0)
	s.MarkerRev++
}

// Spend deducts amount if affordable. It reports whether the deduction happened.
func (s *State) Spend(amount float64) bool {
	if amount < 0 || s.Score < amount {
		return false
	}
	s.Score -= amount
	return true
}

// Penalize deducts amount, clamping the score at zero. It returns what was taken.
func (s *State) Penalize(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	if amount > s.Score {
		amount = s.Score
	}
	s.Score -= amount
	return amount
}

// AddAside adds the given bonuses, saturating at MaxInt64 and clamping each total at zero.
func (s *State) AddAside(cps, cpc int64) {
	s.AsideCPS = clampZero(rules.AddSat(s.AsideCPS, cps))
	s.AsideCPC = clampZero(rules.AddSat(s.AsideCPC, cpc))
}

// AddMarker appends a marker without touching slices shared with clones.
func (s *State) AddMarker(m Marker) {
	markers := make([]Marker, len(s.Markers), len(s.Markers)+1)
	copy(markers, s.Markers)
	s.Markers = append(markers, m)
	s.MarkerRev++
}

// MarkerCount returns how many markers exist for a key.
func (s *State) MarkerCount(key upgrade.Key) int {
	n := 0
	for _, m := range s.Markers {
		if m.Key == key {
			n++
		}
	}
	return n
}

// RemoveNewestMarker drops the most recently added marker of a key.
func (s *State) RemoveNewestMarker(key upgrade.Key) (Marker, bool) {
	for i := len(s.Markers) - 1; i >= 0; i-- {
		if s.Markers[i].Key == key {
			m := s.Markers[i]
			markers := make([]Marker, 0, len(s.Markers)-1)
			markers = append(markers, s.Markers[:i]...)
			s.Markers = append(markers, s.Markers[i+1:]...)
			s.MarkerRev++
			return m, true
		}
	}
	return Marker{}, false
}

// Clone returns a copy of the state. The copy shares the immutable Markers slice.
func (s *State) Clone() *State {
	c := *s
	c.Upgrades = make(map[upgrade.Key]int, len(s.Upgrades))
	for k, v := range s.Upgrades {
		c.Upgrades[k] = v
	}
	return &c
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
