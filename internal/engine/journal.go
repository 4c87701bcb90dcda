package engine

import (
	"context"
	"encoding/json"

	"github.com/MRamiBalles/CheeseClicker/server/internal/events"
	"github.com/MRamiBalles/CheeseClicker/server/internal/infra/storage"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
)

// journaled lists the signals kept in the economy history.
var journaled = map[events.EventType]bool{
	events.EventTypeLevelUp:          true,
	events.EventTypeLevelUpRejected:  true,
	events.EventTypeUpgradePurchased: true,
	events.EventTypeUpgradeRejected:  true,
	events.EventTypeUpgradeSold:      true,
	events.EventTypeReset:            true,
	events.EventTypeBonusResolved:    true,
}

// Journal copies economy actions from the event log into a JournalRepository.
type Journal struct {
	repo   storage.JournalRepository
	slot   string
	logger *logger.Logger
}

// NewJournal creates a journal for one slot.
func NewJournal(repo storage.JournalRepository, slot string, log *logger.Logger) *Journal {
	if log == nil {
		log = logger.NewNop()
	}
	return &Journal{repo: repo, slot: slot, logger: log}
}

// Run records journaled events until ctx is done. Call in a goroutine.
func (j *Journal) Run(ctx context.Context, eventLog *events.EventLog) {
	ch, cancel := eventLog.Subscribe(256)
	defer cancel()
	j.consume(ctx, ch)
}

func (j *Journal) consume(ctx context.Context, ch <-chan events.GameEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if journaled[ev.Type] {
				j.record(ctx, ev)
			}
		}
	}
}

func (j *Journal) record(ctx context.Context, ev events.GameEvent) {
	entry := storage.JournalEntry{
		ID:        ev.ID,
		Slot:      j.slot,
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
		EventType: string(ev.Type),
		ActorID:   ev.ActorID,
		TargetID:  ev.TargetID,
		Payload:   toMap(ev.Payload),
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultSaveTimeout)
	defer cancel()
	if err := j.repo.Append(ctx, entry); err != nil {
		j.logger.Warnf("Failed to journal %s: %v", ev.Type, err)
	}
}

// Recent returns the latest journal entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]storage.JournalEntry, error) {
	return j.repo.Recent(ctx, j.slot, limit)
}

// toMap turns a typed payload into the generic map the journal stores.
func toMap(payload interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
