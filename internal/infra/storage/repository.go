// Package storage provides the persistence layer for the cheese server.
// This package implements the repository pattern to keep the domain pure.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/player"
)

// ErrNotFound is returned by Load when a slot has never been saved.
var ErrNotFound = errors.New("save slot not found")

// SavedState is the persisted progression of one save slot. Aside bonuses are not
// stored; they are rebuilt from Upgrades on load.
type SavedState struct {
	Score     float64         `json:"score"`
	Level     int             `json:"level"`
	Upgrades  map[string]int  `json:"upgradesState"`
	Markers   []player.Marker `json:"moonUpgrades"`
	UpdatedAt time.Time       `json:"updated_at"`

	// KeepMarkers asks Save to leave the stored markers as they are; Markers is ignored.
	KeepMarkers bool `json:"-"`
}

// StateRepository loads and saves progression per slot.
type StateRepository interface {
	// Load returns ErrNotFound for a slot that was never saved.
	Load(ctx context.Context, slot string) (*SavedState, error)

	// Save replaces the slot contents.
	Save(ctx context.Context, slot string, state *SavedState) error
}

// JournalEntry is one economy action kept for the history view.
type JournalEntry struct {
	ID        string                 `json:"id" db:"id"`
	Slot      string                 `json:"slot" db:"slot"`
	Seq       int64                  `json:"seq" db:"seq"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	EventType string                 `json:"event_type" db:"event_type"`
	ActorID   string                 `json:"actor_id" db:"actor_id"`
	TargetID  string                 `json:"target_id" db:"target_id"`
	Payload   map[string]interface{} `json:"payload" db:"payload"`
}

// JournalRepository is the append-only history of purchases, sales, level-ups and resets.
type JournalRepository interface {
	// Append adds an entry to the history.
	Append(ctx context.Context, entry JournalEntry) error

	// Recent returns up to limit entries of a slot, newest first.
	Recent(ctx context.Context, slot string, limit int) ([]JournalEntry, error)

	// ByType returns every entry of one event type for a slot, oldest first.
	ByType(ctx context.Context, slot, eventType string) ([]JournalEntry, error)
}
