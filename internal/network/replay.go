package network

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/MRamiBalles/CheeseClicker/server/internal/events"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
)

// ReplayHandler serves the retained signal history, so a reconnecting UI can catch up
// on what it missed.
type ReplayHandler struct {
	eventLog *events.EventLog
	logger   *logger.Logger
}

// NewReplayHandler creates a replay handler over el.
func NewReplayHandler(el *events.EventLog, log *logger.Logger) *ReplayHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &ReplayHandler{
		eventLog: el,
		logger:   log,
	}
}

// ReplayEvent is an event with a readable summary attached.
type ReplayEvent struct {
	events.GameEvent
	Summary string `json:"summary"`
	Impact  string `json:"impact"`
}

// ReplayResponse is the API response for a replay.
type ReplayResponse struct {
	TotalEvents int           `json:"total_events"`
	LastSeq     int64         `json:"last_seq"`
	GeneratedAt string        `json:"generated_at"`
	Events      []ReplayEvent `json:"events"`
}

// HandleReplay returns retained events after a sequence number.
// GET /api/events?since=N&type=UPGRADE_SOLD&include_state=true
func (rh *ReplayHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since int64
	if s := q.Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			rh.jsonError(w, "since must be a non-negative sequence number", http.StatusBadRequest)
			return
		}
		since = v
	}
	eventType := events.EventType(q.Get("type"))
	// STATE_CHANGED fires on every tick and would drown the history.
	includeState := q.Get("include_state") == "true" || eventType == events.EventTypeStateChanged

	resp := ReplayResponse{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      []ReplayEvent{},
	}
	for _, e := range rh.eventLog.Since(since) {
		resp.LastSeq = e.Seq
		if eventType != "" && e.Type != eventType {
			continue
		}
		if e.Type == events.EventTypeStateChanged && !includeState {
			continue
		}
		resp.Events = append(resp.Events, ReplayEvent{
			GameEvent: e,
			Summary:   summarizeEvent(e),
			Impact:    determineImpact(e),
		})
	}
	resp.TotalEvents = len(resp.Events)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleStats returns per-type counts of the retained history.
// GET /api/events/stats
func (rh *ReplayHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	all := rh.eventLog.Replay()
	counts := make(map[events.EventType]int)
	for _, e := range all {
		counts[e.Type]++
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"retained":     len(all),
		"dropped":      rh.eventLog.Dropped(),
		"by_type":      counts,
	})
}

// RegisterRoutes sets up the replay routes.
func (rh *ReplayHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events", rh.HandleReplay).Methods(http.MethodGet)
	r.HandleFunc("/api/events/stats", rh.HandleStats).Methods(http.MethodGet)
}

func summarizeEvent(e events.GameEvent) string {
	switch e.Type {
	case events.EventTypeManualClick:
		return "The moon was clicked."
	case events.EventTypeLevelUp:
		return "Reached a new level."
	case events.EventTypeLevelUpRejected:
		return "Level-up refused, half the price was lost."
	case events.EventTypeUpgradePurchased:
		return "Bought " + e.TargetID + "."
	case events.EventTypeUpgradeRejected:
		return "Purchase of " + e.TargetID + " refused, half the price was lost."
	case events.EventTypeUpgradeSold:
		return "Sold " + e.TargetID + "."
	case events.EventTypeMarkerSpawn, events.EventTypeMarkerRemoveOne:
		return "Moon markers changed for " + e.TargetID + "."
	case events.EventTypeReset:
		return "All progress was reset."
	case events.EventTypeInsufficientFunds:
		return "Not enough cheese."
	case events.EventTypeGatePrompt:
		return "A question is waiting for an answer."
	case events.EventTypeGateResolved:
		return "A question was answered."
	case events.EventTypeBonusOffered:
		return "A golden cheese appeared."
	case events.EventTypeBonusExpired:
		return "The golden cheese vanished."
	case events.EventTypeBonusResolved:
		return "The golden cheese was claimed."
	case events.EventTypeBonusEnded:
		return "A boost wore off."
	case events.EventTypeStateChanged:
		return "State refreshed."
	default:
		return "Something happened."
	}
}

func determineImpact(e events.GameEvent) string {
	switch e.Type {
	case events.EventTypeLevelUp, events.EventTypeUpgradePurchased, events.EventTypeBonusResolved:
		return "POSITIVE"
	case events.EventTypeLevelUpRejected, events.EventTypeUpgradeRejected, events.EventTypeReset,
		events.EventTypeInsufficientFunds, events.EventTypeBonusExpired:
		return "NEGATIVE"
	default:
		return "NEUTRAL"
	}
}

// jsonError sends an error response.
func (rh *ReplayHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
