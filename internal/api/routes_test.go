package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
	"github.com/MRamiBalles/CheeseClicker/server/internal/engine"
	"github.com/MRamiBalles/CheeseClicker/server/internal/infra/storage"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/config"
)

func newTestRouter(t *testing.T, mode string, journal storage.JournalRepository) (http.Handler, *engine.Engine) {
	t.Helper()
	cfg := config.DevConfig()
	cfg.Gate.Mode = mode
	cfg.Bonus.Enabled = false
	eng, err := engine.NewEngine(engine.Options{Config: cfg, Journal: journal})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return NewRouter(eng, nil, nil), eng
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return out
}

func TestStateAndClick(t *testing.T) {
	h, _ := newTestRouter(t, config.GateModeApprove, nil)

	rec := do(t, h, http.MethodPost, "/api/click", "")
	if rec.Code != http.StatusOK || decode(t, rec)["amount"] != float64(1) {
		t.Fatalf("Click failed: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/state", "")
	state := decode(t, rec)
	if state["score"] != float64(1) || state["level"] != float64(1) {
		t.Errorf("Unexpected state: %v", state)
	}
	if ups, ok := state["upgrades"].([]interface{}); !ok || len(ups) != 6 {
		t.Errorf("Expected 6 upgrade views, got %v", state["upgrades"])
	}

	if rec := do(t, h, http.MethodGet, "/api/click", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET /api/click, got %d", rec.Code)
	}
}

func TestUpgradeRoutes(t *testing.T) {
	h, eng := newTestRouter(t, config.GateModeApprove, nil)

	rec := do(t, h, http.MethodPost, "/api/upgrades/pointer/buy", "")
	if rec.Code != http.StatusConflict || decode(t, rec)["code"] != "INSUFFICIENT_FUNDS" {
		t.Errorf("Expected 409 without cheese, got %d", rec.Code)
	}

	eng.Ledger().Restore(15, 1, nil, nil)
	rec = do(t, h, http.MethodPost, "/api/upgrades/pointer/buy", "")
	if rec.Code != http.StatusOK || decode(t, rec)["times_bought"] != float64(1) {
		t.Fatalf("Buy failed: %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/upgrades/pointer/sell?count=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Sell failed: %d", rec.Code)
	}
	sale := decode(t, rec)
	if sale["units"] != float64(1) || sale["refund"] != float64(7) {
		t.Errorf("Unexpected sale: %v", sale)
	}

	cases := []struct {
		path   string
		status int
	}{
		{"/api/upgrades/pointer/sell", http.StatusBadRequest},
		{"/api/upgrades/pointer/sell?count=0", http.StatusBadRequest},
		{"/api/upgrades/pointer/sell?count=abc", http.StatusBadRequest},
		{"/api/upgrades/spaceship/buy", http.StatusNotFound},
	}
	for _, c := range cases {
		if rec := do(t, h, http.MethodPost, c.path, ""); rec.Code != c.status {
			t.Errorf("%s: expected %d, got %d", c.path, c.status, rec.Code)
		}
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	h, eng := newTestRouter(t, config.GateModeApprove, nil)
	eng.Ledger().Restore(500, 2, nil, nil)

	if rec := do(t, h, http.MethodPost, "/api/reset", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without confirmation, got %d", rec.Code)
	}
	if s := eng.Ledger().State(); s.Level != 2 {
		t.Fatalf("Unconfirmed reset changed state")
	}
	if rec := do(t, h, http.MethodPost, "/api/reset", `{"confirm": true}`); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if s := eng.Ledger().State(); s.Level != 1 || s.Score != 0 {
		t.Errorf("Reset did not clear progression: %+v", s)
	}
}

func TestLevelUpRejected(t *testing.T) {
	h, eng := newTestRouter(t, config.GateModeReject, nil)
	eng.Ledger().Restore(50, 1, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/level-up", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	res := decode(t, rec)
	if res["outcome"] != "REJECTED" || res["penalty"] != float64(25) {
		t.Errorf("Unexpected result: %v", res)
	}
}

func TestBonusAndGateRoutes(t *testing.T) {
	h, eng := newTestRouter(t, config.GateModeApprove, nil)

	offer := eng.Bonus().Offer()
	rec := do(t, h, http.MethodGet, "/api/bonus", "")
	var offers []engine.BonusOffer
	json.NewDecoder(rec.Body).Decode(&offers)
	if len(offers) != 1 || offers[0].ID != offer.ID {
		t.Fatalf("Expected the open offer, got %+v", offers)
	}

	if rec := do(t, h, http.MethodPost, "/api/bonus/"+offer.ID+"/claim", ""); rec.Code != http.StatusOK {
		t.Errorf("Claim failed: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/bonus/"+offer.ID+"/claim", ""); rec.Code != http.StatusGone {
		t.Errorf("Expected 410 for a spent offer, got %d", rec.Code)
	}

	if rec := do(t, h, http.MethodGet, "/api/gate/prompts", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 listing prompts, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/gate/prompts/x/answer", `{"choice": 0}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 outside quiz mode, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/gate/prompts/x/answer", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a choice, got %d", rec.Code)
	}
}

func TestPurchaseLimitConflict(t *testing.T) {
	h, eng := newTestRouter(t, config.GateModeApprove, nil)
	limit := eng.Config().Economy.MaxPurchases
	eng.Ledger().Restore(1e9, 1, map[upgrade.Key]int{upgrade.KeyPointer: limit}, nil)

	rec := do(t, h, http.MethodPost, "/api/upgrades/pointer/buy", "")
	if rec.Code != http.StatusConflict || decode(t, rec)["code"] != "PURCHASE_LIMIT" {
		t.Errorf("Expected 409 PURCHASE_LIMIT at the cap, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/upgrades", "")
	var views []engine.UpgradeView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) == 0 || views[0].Key != upgrade.KeyPointer || !views[0].Maxed {
		t.Errorf("Expected the pointer view to report maxed, got %+v", views)
	}
}

func TestGateLanguageRoute(t *testing.T) {
	h, _ := newTestRouter(t, config.GateModeQuiz, nil)

	rec := do(t, h, http.MethodPost, "/api/gate/language", `{"language": "en"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 switching to the built-in bank, got %d", rec.Code)
	}
	if res := decode(t, rec); res["language"] != "en" || res["questions"].(float64) < 1 {
		t.Errorf("Unexpected language result: %v", res)
	}
	cases := []struct {
		body   string
		status int
	}{
		{`{"language": "xx"}`, http.StatusNotFound},
		{`{}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, c := range cases {
		if rec := do(t, h, http.MethodPost, "/api/gate/language", c.body); rec.Code != c.status {
			t.Errorf("%s: expected %d, got %d", c.body, c.status, rec.Code)
		}
	}

	plain, _ := newTestRouter(t, config.GateModeApprove, nil)
	if rec := do(t, plain, http.MethodPost, "/api/gate/language", `{"language": "en"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 outside quiz mode, got %d", rec.Code)
	}
}

func TestQuizAnswerUnknownPrompt(t *testing.T) {
	h, _ := newTestRouter(t, config.GateModeQuiz, nil)
	if rec := do(t, h, http.MethodPost, "/api/gate/prompts/missing/answer", `{"choice": 1}`); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown prompt, got %d", rec.Code)
	}
}

func TestGateAbandonedByRequest(t *testing.T) {
	h, eng := newTestRouter(t, config.GateModeQuiz, nil)
	eng.Ledger().Restore(50, 1, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/level-up", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestTimeout {
		t.Errorf("Expected 408 when the caller gives up, got %d", rec.Code)
	}
	if s := eng.Ledger().State(); s.Score != 50 || s.Level != 1 {
		t.Errorf("Abandoned level-up mutated state: %+v", s)
	}
}

func TestHistoryAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t, config.GateModeApprove, nil)
	if rec := do(t, h, http.MethodGet, "/api/history", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with history disabled, got %d", rec.Code)
	}

	h, _ = newTestRouter(t, config.GateModeApprove, storage.NewMemoryJournalRepository())
	rec := do(t, h, http.MethodGet, "/api/history?limit=5", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Expected an empty history, got %d %q", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/api/history?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for limit=0, got %d", rec.Code)
	}

	do(t, h, http.MethodPost, "/api/click", "")
	rec = do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/metrics/prometheus", "")
	if !strings.Contains(rec.Body.String(), "cheese_clicks_total 1") {
		t.Errorf("Expected click counter in Prometheus output, got %q", rec.Body.String())
	}
}
