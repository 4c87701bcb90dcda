package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
	"github.com/MRamiBalles/CheeseClicker/server/internal/engine"
	"github.com/MRamiBalles/CheeseClicker/server/internal/events"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/config"
)

func startHub(t *testing.T, maxActions int) (*Hub, *engine.Engine, string) {
	t.Helper()
	cfg := config.DevConfig()
	cfg.Gate.Mode = config.GateModeApprove
	cfg.Bonus.Enabled = false
	cfg.Server.MaxActionsPerSecond = maxActions
	eng, err := engine.NewEngine(engine.Options{Config: cfg})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	hub := NewHub(eng, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, eng, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func replyTo(id string) func(ServerMessage) bool {
	return func(m ServerMessage) bool {
		return m.Kind == KindReply && m.Reply != nil && m.Reply.RequestID == id
	}
}

func TestHelloAndClick(t *testing.T) {
	_, _, url := startHub(t, 0)
	conn := dial(t, url)

	hello := readUntil(t, conn, func(m ServerMessage) bool { return m.Kind == KindHello })
	if hello.State == nil || hello.State.Level != 1 {
		t.Fatalf("Expected hello with level 1 state, got %+v", hello)
	}

	if err := conn.WriteJSON(map[string]string{"request_id": "c1", "type": "CLICK"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// The reply and the broadcast MANUAL_CLICK travel separately, so either may arrive first.
	var clicked, reply *ServerMessage
	for clicked == nil || reply == nil {
		msg := readUntil(t, conn, func(m ServerMessage) bool {
			return replyTo("c1")(m) || (m.Kind == KindEvent && m.Event != nil && m.Event.Type == events.EventTypeManualClick)
		})
		if msg.Kind == KindReply {
			reply = &msg
		} else {
			clicked = &msg
		}
	}

	if clicked.Event.ActorID != events.ActorPlayer {
		t.Errorf("Expected click by PLAYER, got %s", clicked.Event.ActorID)
	}
	if reply.Reply.Error != "" {
		t.Fatalf("CLICK failed: %s", reply.Reply.Error)
	}
	result, ok := reply.Reply.Result.(map[string]interface{})
	if !ok || result["amount"] != float64(1) {
		t.Errorf("Expected amount 1, got %+v", reply.Reply.Result)
	}
}

func TestErrorReplies(t *testing.T) {
	_, _, url := startHub(t, 0)
	conn := dial(t, url)

	conn.WriteJSON(map[string]string{"request_id": "b1", "type": "BUY_UPGRADE", "key": "pointer"})
	reply := readUntil(t, conn, replyTo("b1"))
	if reply.Reply.Code != CodeInsufficientFunds {
		t.Errorf("Expected %s, got %+v", CodeInsufficientFunds, reply.Reply)
	}

	conn.WriteJSON(map[string]string{"request_id": "r1", "type": "RESET"})
	reply = readUntil(t, conn, replyTo("r1"))
	if reply.Reply.Code != CodeBadRequest {
		t.Errorf("Expected %s for unconfirmed reset, got %+v", CodeBadRequest, reply.Reply)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	reply = readUntil(t, conn, func(m ServerMessage) bool { return m.Kind == KindReply })
	if reply.Reply.Code != CodeBadRequest {
		t.Errorf("Expected %s for malformed input, got %+v", CodeBadRequest, reply.Reply)
	}
}

func TestPurchaseLimitAndLanguageReplies(t *testing.T) {
	_, eng, url := startHub(t, 0)
	limit := eng.Config().Economy.MaxPurchases
	eng.Ledger().Restore(1e9, 1, map[upgrade.Key]int{upgrade.KeyPointer: limit}, nil)
	conn := dial(t, url)

	hello := readUntil(t, conn, func(m ServerMessage) bool { return m.Kind == KindHello })
	if hello.State == nil || len(hello.State.Markers) != limit {
		t.Fatalf("Expected hello to carry %d markers, got %+v", limit, hello.State)
	}

	conn.WriteJSON(map[string]string{"request_id": "b1", "type": "BUY_UPGRADE", "key": "pointer"})
	reply := readUntil(t, conn, replyTo("b1"))
	if reply.Reply.Code != CodePurchaseLimit {
		t.Errorf("Expected %s, got %+v", CodePurchaseLimit, reply.Reply)
	}

	conn.WriteJSON(map[string]string{"request_id": "l1", "type": "SET_LANGUAGE", "language": "es"})
	reply = readUntil(t, conn, replyTo("l1"))
	if reply.Reply.Code != CodeBadRequest {
		t.Errorf("Expected %s outside quiz mode, got %+v", CodeBadRequest, reply.Reply)
	}
}

func TestGatedCommandOverSocket(t *testing.T) {
	_, eng, url := startHub(t, 0)
	eng.Ledger().Restore(15, 1, nil, nil)
	conn := dial(t, url)

	conn.WriteJSON(map[string]string{"request_id": "p1", "type": "BUY_UPGRADE", "key": "pointer"})
	reply := readUntil(t, conn, replyTo("p1"))
	if reply.Reply.Error != "" {
		t.Fatalf("BUY_UPGRADE failed: %s", reply.Reply.Error)
	}
	if got := eng.Ledger().State().TimesBought("pointer"); got != 1 {
		t.Errorf("Expected one pointer, got %d", got)
	}
}

func TestRateLimit(t *testing.T) {
	_, _, url := startHub(t, 2)
	conn := dial(t, url)

	for _, id := range []string{"1", "2", "3"} {
		conn.WriteJSON(map[string]string{"request_id": id, "type": "GET_STATE"})
	}
	if reply := readUntil(t, conn, replyTo("2")); reply.Reply.Error != "" {
		t.Errorf("Second action should pass, got %+v", reply.Reply)
	}
	if reply := readUntil(t, conn, replyTo("3")); reply.Reply.Code != CodeRateLimited {
		t.Errorf("Expected %s, got %+v", CodeRateLimited, reply.Reply)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, _, url := startHub(t, 0)
	conn := dial(t, url)
	readUntil(t, conn, func(m ServerMessage) bool { return m.Kind == KindHello })
	if hub.ClientCount() != 1 {
		t.Fatalf("Expected one client, got %d", hub.ClientCount())
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Client was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReplayHandler(t *testing.T) {
	el := events.NewEventLog(0)
	el.Emit(events.EventTypeManualClick, events.ActorPlayer, "", nil)
	el.Emit(events.EventTypeStateChanged, events.ActorPlayer, "", nil)
	el.Emit(events.EventTypeUpgradeSold, events.ActorPlayer, "pointer", nil)

	r := mux.NewRouter()
	NewReplayHandler(el, nil).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?since=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp ReplayResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if resp.TotalEvents != 1 || resp.Events[0].Type != events.EventTypeUpgradeSold || resp.LastSeq != 3 {
		t.Errorf("Expected only the sale after seq 1, got %+v", resp)
	}
	if resp.Events[0].Summary != "Sold pointer." {
		t.Errorf("Unexpected summary %q", resp.Events[0].Summary)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?since=-4", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a negative since, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/stats", nil))
	var stats map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&stats)
	if stats["retained"] != float64(3) {
		t.Errorf("Expected 3 retained events, got %v", stats["retained"])
	}
}
