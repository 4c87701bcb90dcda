package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
	"github.com/MRamiBalles/CheeseClicker/server/internal/engine"
	"github.com/MRamiBalles/CheeseClicker/server/internal/gate"
	"github.com/MRamiBalles/CheeseClicker/server/internal/infra/storage"
	"github.com/MRamiBalles/CheeseClicker/server/internal/network"
)

// defaultHistoryLimit caps /api/history when no limit is given.
const defaultHistoryLimit = 50

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Ledger().Snapshot())
}

func (s *Server) handleUpgrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Ledger().Snapshot().Upgrades)
}

// handleCommand runs a command that takes no arguments. Gated commands block until the gate
// answers or the request is cancelled.
func (s *Server) handleCommand(t engine.CommandType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.dispatch(w, r, engine.Command{Type: t})
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	confirm := body.Confirm || r.URL.Query().Get("confirm") == "true"
	s.dispatch(w, r, engine.Command{Type: engine.CmdReset, Confirm: confirm})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	key := upgrade.Key(mux.Vars(r)["key"])
	s.dispatch(w, r, engine.Command{Type: engine.CmdBuyUpgrade, Key: key})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	key := upgrade.Key(mux.Vars(r)["key"])
	count := 1
	if c := r.URL.Query().Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("count must be an integer"))
			return
		}
		count = n
	}
	if count == 0 {
		// Dispatch treats 0 as 1; an explicit zero is a mistake.
		writeError(w, http.StatusBadRequest, engine.ErrInvalidCount)
		return
	}
	s.dispatch(w, r, engine.Command{Type: engine.CmdSellUpgrade, Key: key, Count: count})
}

func (s *Server) handleBonusOffers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Bonus().Active())
}

func (s *Server) handleBonusClaim(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, engine.Command{Type: engine.CmdClaimBonus, OfferID: mux.Vars(r)["id"]})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GatePrompts())
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Choice *int `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Choice == nil {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"choice\": <index>}"))
		return
	}
	s.dispatch(w, r, engine.Command{Type: engine.CmdAnswerGate, PromptID: mux.Vars(r)["id"], Choice: *body.Choice})
}

func (s *Server) handleLanguage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Language == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"language\": <code>}"))
		return
	}
	s.dispatch(w, r, engine.Command{Type: engine.CmdSetLanguage, Language: body.Language})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	j := s.engine.Journal()
	if j == nil {
		writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}
	limit := defaultHistoryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := j.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Errorf("Failed to read history: %v", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to read history"))
		return
	}
	if entries == nil {
		entries = []storage.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, cmd engine.Command) {
	result, err := s.engine.Dispatch(r.Context(), cmd)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Errorf("%s failed: %v", cmd.Type, err)
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInsufficientFunds), errors.Is(err, engine.ErrRequestPending),
		errors.Is(err, engine.ErrPurchaseLimit):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnknownUpgrade), errors.Is(err, gate.ErrPromptNotFound),
		errors.Is(err, engine.ErrUnknownLanguage):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrOfferNotFound):
		return http.StatusGone
	case errors.Is(err, engine.ErrGateAbandoned):
		return http.StatusRequestTimeout
	case errors.Is(err, engine.ErrNothingToSell), errors.Is(err, engine.ErrInvalidCount),
		errors.Is(err, engine.ErrResetNotConfirmed), errors.Is(err, engine.ErrGateUnavailable),
		errors.Is(err, engine.ErrUnknownCommand), errors.Is(err, gate.ErrInvalidChoice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  network.ErrorCode(err),
	})
}
