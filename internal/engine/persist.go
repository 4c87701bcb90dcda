package engine

import (
	"context"
	"sync"
	"time"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/player"
	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
	"github.com/MRamiBalles/CheeseClicker/server/internal/infra/storage"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/metrics"
)

// DefaultSaveTimeout bounds a single save when none is configured.
const DefaultSaveTimeout = 2 * time.Second

// Saver writes committed ledger snapshots to a StateRepository, last write wins.
// A snapshot older than the last one written is skipped. Failures are logged and
// counted, never returned: the game stays playable on in-memory state.
type Saver struct {
	mu          sync.Mutex
	repo        storage.StateRepository
	slot        string
	timeout     time.Duration
	logger      *logger.Logger
	metrics     *metrics.Collector
	lastVersion uint64
	failing     bool

	// Marker revision held by the slot; valid while markersSaved.
	markerRev    uint64
	markersSaved bool
}

// NewSaver creates a saver for one slot.
func NewSaver(repo storage.StateRepository, slot string, timeout time.Duration, log *logger.Logger, m *metrics.Collector) *Saver {
	if timeout <= 0 {
		timeout = DefaultSaveTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Saver{repo: repo, slot: slot, timeout: timeout, logger: log, metrics: m}
}

// Save persists the snapshot unless a newer version was already written.
func (s *Saver) Save(version uint64, st *player.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version <= s.lastVersion {
		s.metrics.RecordSkippedSave()
		return
	}
	s.lastVersion = version

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	saved := ToSaved(st)
	if s.markersSaved && s.markerRev == st.MarkerRev {
		saved.Markers = nil
		saved.KeepMarkers = true
	}

	start := time.Now()
	err := s.repo.Save(ctx, s.slot, saved)
	s.metrics.RecordSave(time.Since(start), err)
	if err != nil {
		s.markersSaved = false
		// One line per failure streak; saves run on every tick.
		if !s.failing {
			s.logger.Errorf("Saving slot %s failed, continuing in memory: %v", s.slot, err)
			s.failing = true
		}
		return
	}
	s.markerRev, s.markersSaved = st.MarkerRev, true
	if s.failing {
		s.logger.Infof("Saving slot %s recovered", s.slot)
		s.failing = false
	}
}

// Load reads the slot from the repository.
func (s *Saver) Load(ctx context.Context) (*storage.SavedState, error) {
	return s.repo.Load(ctx, s.slot)
}

// ToSaved converts ledger state to its persisted form. Aside bonuses are left out and
// the markers slice is shared, never copied.
func ToSaved(st *player.State) *storage.SavedState {
	upgrades := make(map[string]int, len(st.Upgrades))
	for k, v := range st.Upgrades {
		upgrades[string(k)] = v
	}
	return &storage.SavedState{
		Score:     st.Score,
		Level:     st.Level,
		Upgrades:  upgrades,
		Markers:   st.Markers,
		UpdatedAt: time.Now(),
	}
}

// restoreSaved applies a persisted slot to the ledger.
func restoreSaved(l *Ledger, saved *storage.SavedState) {
	counts := make(map[upgrade.Key]int, len(saved.Upgrades))
	for k, v := range saved.Upgrades {
		counts[upgrade.Key(k)] = v
	}
	l.Restore(saved.Score, saved.Level, counts, saved.Markers)
}
