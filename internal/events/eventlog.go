// Package events provides the signal log the economy core emits to its collaborators
// (UI refresh, click sound, ownership markers, bonus prompts).
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a game signal.
type EventType string

const (
	EventTypeStateChanged      EventType = "STATE_CHANGED"
	EventTypeManualClick       EventType = "MANUAL_CLICK"
	EventTypeLevelUp           EventType = "LEVEL_UP"
	EventTypeLevelUpRejected   EventType = "LEVEL_UP_REJECTED"
	EventTypeUpgradePurchased  EventType = "UPGRADE_PURCHASED"
	EventTypeUpgradeRejected   EventType = "UPGRADE_REJECTED"
	EventTypeUpgradeSold       EventType = "UPGRADE_SOLD"
	EventTypeMarkerSpawn       EventType = "MARKER_SPAWN"
	EventTypeMarkerRemoveOne   EventType = "MARKER_REMOVE_ONE"
	EventTypeReset             EventType = "RESET"
	EventTypeInsufficientFunds EventType = "INSUFFICIENT_FUNDS"
	EventTypeGatePrompt        EventType = "GATE_PROMPT"
	EventTypeGateResolved      EventType = "GATE_RESOLVED"
	EventTypeBonusOffered      EventType = "BONUS_OFFERED"
	EventTypeBonusExpired      EventType = "BONUS_EXPIRED"
	EventTypeBonusResolved     EventType = "BONUS_RESOLVED"
	EventTypeBonusEnded        EventType = "BONUS_ENDED"
)

// Actors attached to events.
const (
	ActorPlayer = "PLAYER"
	ActorClock  = "CLOCK"
	ActorBonus  = "BONUS"
	ActorGate   = "GATE"
)

// GameEvent represents an immutable record of a signal.
type GameEvent struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"type"`
	ActorID   string      `json:"actor_id"`
	TargetID  string      `json:"target_id,omitempty"` // Upgrade key, offer ID or prompt ID
	Payload   interface{} `json:"payload,omitempty"`
}

// DefaultCapacity is how many recent events the log retains.
const DefaultCapacity = 1024

// EventLog is a bounded in-memory log of recent signals with live subscribers.
type EventLog struct {
	mu          sync.RWMutex
	events      []GameEvent
	capacity    int
	seq         int64
	subscribers map[int]chan GameEvent
	nextSubID   int
	dropped     int64
}

// NewEventLog creates a log retaining at most capacity events (DefaultCapacity when <= 0).
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EventLog{
		events:      make([]GameEvent, 0, capacity),
		capacity:    capacity,
		subscribers: make(map[int]chan GameEvent),
	}
}

// Append stamps the event (ID, sequence, timestamp) and fans it out.
// Slow subscribers lose events instead of blocking the economy.
func (el *EventLog) Append(event GameEvent) GameEvent {
	el.mu.Lock()
	defer el.mu.Unlock()

	el.seq++
	event.Seq = el.seq
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if len(el.events) == el.capacity {
		copy(el.events, el.events[1:])
		el.events = el.events[:len(el.events)-1]
	}
	el.events = append(el.events, event)

	for _, ch := range el.subscribers {
		select {
		case ch <- event:
		default:
			el.dropped++
		}
	}
	return event
}

// Emit is a shorthand for appending an event of the given type.
func (el *EventLog) Emit(eventType EventType, actorID, targetID string, payload interface{}) GameEvent {
	return el.Append(GameEvent{
		Type:     eventType,
		ActorID:  actorID,
		TargetID: targetID,
		Payload:  payload,
	})
}

// Subscribe registers a live listener. The returned cancel func closes the channel.
func (el *EventLog) Subscribe(buffer int) (<-chan GameEvent, func()) {
	el.mu.Lock()
	defer el.mu.Unlock()

	id := el.nextSubID
	el.nextSubID++
	ch := make(chan GameEvent, buffer)
	el.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			el.mu.Lock()
			delete(el.subscribers, id)
			el.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Replay returns a copy of the retained history, oldest first.
func (el *EventLog) Replay() []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()
	out := make([]GameEvent, len(el.events))
	copy(out, el.events)
	return out
}

// Since returns retained events with a sequence number greater than seq.
func (el *EventLog) Since(seq int64) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.events {
		if e.Seq > seq {
			result = append(result, e)
		}
	}
	return result
}

// GetByType returns retained events of one type.
func (el *EventLog) GetByType(eventType EventType) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (el *EventLog) Dropped() int64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.dropped
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
