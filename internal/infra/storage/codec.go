package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/player"
)

// Field names of a saved slot, shared by every key/value backend.
const (
	KeyScore    = "score"
	KeyLevel    = "level"
	KeyUpgrades = "upgradesState"
	KeyMarkers  = "moonUpgrades"
)

var savedKeys = []string{KeyScore, KeyLevel, KeyUpgrades, KeyMarkers}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// EncodeValues flattens a state into the key/value layout: decimal score, integer level,
// JSON upgrade counts and JSON markers. Markers are left out when KeepMarkers is set.
func EncodeValues(state *SavedState) (map[string]string, error) {
	upgrades := state.Upgrades
	if upgrades == nil {
		upgrades = map[string]int{}
	}
	upgradeBytes, err := json.Marshal(upgrades)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upgrades: %w", err)
	}
	values := map[string]string{
		KeyScore:    strconv.FormatFloat(state.Score, 'f', -1, 64),
		KeyLevel:    strconv.Itoa(state.Level),
		KeyUpgrades: string(upgradeBytes),
	}
	if state.KeepMarkers {
		return values, nil
	}
	markers := state.Markers
	if markers == nil {
		markers = []player.Marker{}
	}
	markerBytes, err := json.Marshal(markers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal markers: %w", err)
	}
	values[KeyMarkers] = string(markerBytes)
	return values, nil
}

// DecodeValues rebuilds a state from the key/value layout. Missing keys keep their defaults.
func DecodeValues(values map[string]string, updatedAt time.Time) (*SavedState, error) {
	state := &SavedState{
		Level:     1,
		Upgrades:  make(map[string]int),
		Markers:   []player.Marker{},
		UpdatedAt: updatedAt,
	}
	if v, ok := values[KeyScore]; ok {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid saved score %q: %w", v, err)
		}
		state.Score = score
	}
	if v, ok := values[KeyLevel]; ok {
		level, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid saved level %q: %w", v, err)
		}
		state.Level = level
	}
	if v, ok := values[KeyUpgrades]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &state.Upgrades); err != nil {
			return nil, fmt.Errorf("invalid saved upgrades: %w", err)
		}
	}
	if v, ok := values[KeyMarkers]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &state.Markers); err != nil {
			return nil, fmt.Errorf("invalid saved markers: %w", err)
		}
	}
	return state, nil
}
