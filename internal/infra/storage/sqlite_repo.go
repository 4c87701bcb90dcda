package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStateRepository implements StateRepository as key/value rows per slot.
type SQLiteStateRepository struct {
	db *sql.DB
}

func NewSQLiteStateRepository(db *sql.DB) *SQLiteStateRepository {
	return &SQLiteStateRepository{db: db}
}

func (r *SQLiteStateRepository) Save(ctx context.Context, slot string, state *SavedState) error {
	values, err := EncodeValues(state)
	if err != nil {
		return err
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	stamp := formatTime(updatedAt)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin save: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO save_kv (slot, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(slot, key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`
	for _, key := range savedKeys {
		value, ok := values[key]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, query, slot, key, value, stamp); err != nil {
			return fmt.Errorf("failed to save %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}
	return nil
}

func (r *SQLiteStateRepository) Load(ctx context.Context, slot string) (*SavedState, error) {
	query := `SELECT key, value, updated_at FROM save_kv WHERE slot = ?`
	rows, err := r.db.QueryContext(ctx, query, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to query save slot: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	var latest time.Time
	for rows.Next() {
		var key, value, stamp string
		if err := rows.Scan(&key, &value, &stamp); err != nil {
			return nil, fmt.Errorf("failed to scan save row: %w", err)
		}
		values[key] = value
		if t := parseTime(stamp); t.After(latest) {
			latest = t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}

	return DecodeValues(values, latest)
}

// ---------------------------------------------------------
// SQLiteJournalRepository
// ---------------------------------------------------------

type SQLiteJournalRepository struct {
	db *sql.DB
}

func NewSQLiteJournalRepository(db *sql.DB) *SQLiteJournalRepository {
	return &SQLiteJournalRepository{db: db}
}

func (r *SQLiteJournalRepository) Append(ctx context.Context, entry JournalEntry) error {
	payloadBytes, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO journal (id, slot, seq, timestamp, event_type, actor_id, target_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.Slot, entry.Seq, formatTime(entry.Timestamp), entry.EventType,
		entry.ActorID, entry.TargetID, string(payloadBytes),
	)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

func (r *SQLiteJournalRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]JournalEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var stamp, payloadStr string
		if err := rows.Scan(&e.ID, &e.Slot, &e.Seq, &stamp, &e.EventType, &e.ActorID, &e.TargetID, &payloadStr); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(stamp)
		if err := json.Unmarshal([]byte(payloadStr), &e.Payload); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteJournalRepository) Recent(ctx context.Context, slot string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite reads a negative LIMIT as unbounded
	}
	query := `SELECT id, slot, seq, timestamp, event_type, actor_id, target_id, payload FROM journal WHERE slot = ? ORDER BY rowid DESC LIMIT ?`
	return r.getMany(ctx, query, slot, limit)
}

func (r *SQLiteJournalRepository) ByType(ctx context.Context, slot, eventType string) ([]JournalEntry, error) {
	query := `SELECT id, slot, seq, timestamp, event_type, actor_id, target_id, payload FROM journal WHERE slot = ? AND event_type = ? ORDER BY rowid ASC`
	return r.getMany(ctx, query, slot, eventType)
}
