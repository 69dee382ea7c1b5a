package wsserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-arena/internal/dispatch"
	"github.com/park285/Cheese-arena/internal/domain"
	"github.com/park285/Cheese-arena/internal/match"
	"github.com/park285/Cheese-arena/internal/session"
	"github.com/park285/Cheese-arena/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	log := zap.NewNop()
	reg := session.NewRegistry(session.Options{Logger: log})
	mgr := match.NewManager(store.NewMemory(), reg, nil,
		match.WithLogger(log),
		match.WithColorPicker(func() domain.Color { return domain.White }),
	)
	srv := New(dispatch.New(mgr, reg, nil, log), Options{Path: "/ws", Logger: log})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Shutdown(context.Background())
	})
	return hs, reg
}

func dial(t *testing.T, ctx context.Context, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

// readType reads frames until one of the given type arrives, skipping PINGs.
func readType(t *testing.T, ctx context.Context, c *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		var msg map[string]any
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		if msg["type"] == "PING" {
			continue
		}
		if msg["type"] != typ {
			t.Fatalf("expected %s, got %v", typ, msg)
		}
		return msg
	}
}

func TestHealthz(t *testing.T) {
	hs, _ := newTestServer(t)
	resp, err := http.Get(hs.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestMatchOverWebsocket(t *testing.T) {
	hs, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, hs)
	bob := dial(t, ctx, hs)
	if err := wsjson.Write(ctx, alice, map[string]any{"type": "MATCHMAKING", "username": "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// alice must be waiting before bob arrives
	time.Sleep(50 * time.Millisecond)
	if err := wsjson.Write(ctx, bob, map[string]any{"type": "MATCHMAKING", "username": "bob"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := readType(t, ctx, alice, "MATCH_STARTED"); got["color"] != "WHITE" {
		t.Fatalf("alice started as %v", got["color"])
	}
	if got := readType(t, ctx, bob, "MATCH_STARTED"); got["color"] != "BLACK" || got["whiteUsername"] != "alice" {
		t.Fatalf("bob started as %v", got)
	}

	move := map[string]any{"type": "MOVE", "from": map[string]int{"row": 1, "column": 4}, "to": map[string]int{"row": 3, "column": 4}}
	if err := wsjson.Write(ctx, alice, move); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, c := range []*websocket.Conn{alice, bob} {
		got := readType(t, ctx, c, "MOVE")
		history, _ := got["history"].(map[string]any)
		if history["round"] != float64(1) {
			t.Fatalf("history = %v", history)
		}
	}

	// bob moving a white piece is refused to bob alone
	if err := wsjson.Write(ctx, bob, move); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readType(t, ctx, bob, "INVALID_MOVE"); got["reason"] == "" {
		t.Fatalf("rejection without reason: %v", got)
	}

	if err := wsjson.Write(ctx, bob, map[string]any{"type": "GET_PIECE_AVAILABLE_POSITIONS", "row": 6, "column": 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readType(t, ctx, bob, "AVAILABLE_POSITIONS")
	if positions, _ := got["positions"].([]any); len(positions) != 2 {
		t.Fatalf("positions = %v", got["positions"])
	}
}

func TestUnknownTypeKeepsConnection(t *testing.T) {
	hs, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, ctx, hs)
	if err := wsjson.Write(ctx, c, map[string]any{"type": "RESIGN"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readType(t, ctx, c, "INVALID"); got["reason"] != "UNKNOWN_TYPE" {
		t.Fatalf("got %v", got)
	}
	if err := wsjson.Write(ctx, c, map[string]any{"type": "MATCHMAKING", "username": "carol"}); err != nil {
		t.Fatalf("connection dropped after protocol error: %v", err)
	}
}

func TestDisconnectDetachesSession(t *testing.T) {
	hs, reg := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, ctx, hs)
	if err := wsjson.Write(ctx, c, map[string]any{"type": "MATCHMAKING", "username": "dave"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Len() != 1 {
		t.Fatalf("session not registered")
	}
	_ = c.Close(websocket.StatusNormalClosure, "leaving")
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Fatalf("session not detached after close")
	}
}
