// Package api provides the HTTP surface the UI uses next to the WebSocket stream.
//
// API Groups:
//   - /api/state, /api/click, /api/level-up, /api/reset, /api/recompute - Ledger
//   - /api/upgrades/{key}/* - Purchases and sales
//   - /api/bonus/* - Bonus offers
//   - /api/gate/* - Open quiz prompts and the question language
//   - /api/history, /api/events/* - Journal and signal replay
//   - /metrics, /metrics/prometheus - Counters
//   - /ws - Signal stream
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MRamiBalles/CheeseClicker/server/internal/engine"
	"github.com/MRamiBalles/CheeseClicker/server/internal/network"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
)

// Server holds what the handlers need.
type Server struct {
	engine *engine.Engine
	hub    *network.Hub
	logger *logger.Logger
}

// NewRouter registers every route. hub may be nil, which leaves /ws unregistered.
func NewRouter(eng *engine.Engine, hub *network.Hub, log *logger.Logger) *mux.Router {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{engine: eng, hub: hub, logger: log}

	r := mux.NewRouter()
	s.registerLedgerRoutes(r)
	s.registerUpgradeRoutes(r)
	s.registerBonusRoutes(r)
	s.registerGateRoutes(r)
	s.registerHistoryRoutes(r)

	m := eng.Metrics()
	r.HandleFunc("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/metrics/prometheus", m.PrometheusHandler()).Methods(http.MethodGet)

	if hub != nil {
		r.HandleFunc("/ws", hub.ServeWS)
	}
	return r
}

func (s *Server) registerLedgerRoutes(r *mux.Router) {
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/click", s.handleCommand(engine.CmdClick)).Methods(http.MethodPost)
	r.HandleFunc("/api/level-up", s.handleCommand(engine.CmdLevelUp)).Methods(http.MethodPost)
	r.HandleFunc("/api/recompute", s.handleCommand(engine.CmdRecompute)).Methods(http.MethodPost)
	r.HandleFunc("/api/reset", s.handleReset).Methods(http.MethodPost)
}

func (s *Server) registerUpgradeRoutes(r *mux.Router) {
	r.HandleFunc("/api/upgrades", s.handleUpgrades).Methods(http.MethodGet)
	r.HandleFunc("/api/upgrades/{key}/buy", s.handleBuy).Methods(http.MethodPost)
	r.HandleFunc("/api/upgrades/{key}/sell", s.handleSell).Methods(http.MethodPost)
}

func (s *Server) registerBonusRoutes(r *mux.Router) {
	r.HandleFunc("/api/bonus", s.handleBonusOffers).Methods(http.MethodGet)
	r.HandleFunc("/api/bonus/{id}/claim", s.handleBonusClaim).Methods(http.MethodPost)
}

func (s *Server) registerGateRoutes(r *mux.Router) {
	r.HandleFunc("/api/gate/prompts", s.handlePrompts).Methods(http.MethodGet)
	r.HandleFunc("/api/gate/prompts/{id}/answer", s.handleAnswer).Methods(http.MethodPost)
	r.HandleFunc("/api/gate/language", s.handleLanguage).Methods(http.MethodPost)
}

func (s *Server) registerHistoryRoutes(r *mux.Router) {
	r.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	network.NewReplayHandler(s.engine.GetEventLog(), s.logger).RegisterRoutes(r)
}
