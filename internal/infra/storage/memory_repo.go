package storage

import (
	"context"
	"sync"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/player"
)

// MemoryStateRepository keeps saves in process memory. Used for dev runs and tests.
type MemoryStateRepository struct {
	mu    sync.RWMutex
	slots map[string]*SavedState
}

func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{slots: make(map[string]*SavedState)}
}

func (r *MemoryStateRepository) Save(ctx context.Context, slot string, state *SavedState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := copyState(state)
	r.mu.Lock()
	if state.KeepMarkers {
		c.KeepMarkers = false
		if prev, ok := r.slots[slot]; ok {
			c.Markers = prev.Markers
		}
	}
	r.slots[slot] = c
	r.mu.Unlock()
	return nil
}

func (r *MemoryStateRepository) Load(ctx context.Context, slot string) (*SavedState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.slots[slot]
	if !ok {
		return nil, ErrNotFound
	}
	return copyState(state), nil
}

func copyState(s *SavedState) *SavedState {
	c := *s
	c.Upgrades = make(map[string]int, len(s.Upgrades))
	for k, v := range s.Upgrades {
		c.Upgrades[k] = v
	}
	c.Markers = append([]player.Marker(nil), s.Markers...)
	return &c
}

// MemoryJournalRepository keeps the history in process memory.
type MemoryJournalRepository struct {
	mu      sync.RWMutex
	entries []JournalEntry
}

func NewMemoryJournalRepository() *MemoryJournalRepository {
	return &MemoryJournalRepository{}
}

func (r *MemoryJournalRepository) Append(ctx context.Context, entry JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

func (r *MemoryJournalRepository) Recent(ctx context.Context, slot string, limit int) ([]JournalEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []JournalEntry
	for i := len(r.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.entries[i].Slot == slot {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

func (r *MemoryJournalRepository) ByType(ctx context.Context, slot, eventType string) ([]JournalEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []JournalEntry
	for _, e := range r.entries {
		if e.Slot == slot && e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}
