package chessclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-arena/internal/dispatch"
	"github.com/park285/Cheese-arena/internal/domain"
	"github.com/park285/Cheese-arena/internal/match"
	"github.com/park285/Cheese-arena/internal/session"
	"github.com/park285/Cheese-arena/internal/store"
	"github.com/park285/Cheese-arena/internal/wsserver"
	"github.com/park285/Cheese-arena/pkg/chessdto"
)

func TestHealthRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer hs.Close()

	c := NewClient(hs.URL, WithRetry(3), WithTimeout(2*time.Second))
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestHealthDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer hs.Close()

	if err := NewClient(hs.URL).Health(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

type inbox chan Frame

func (in inbox) next(t *testing.T, typ chessdto.MessageType) Frame {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f := <-in:
			if f.Type == typ {
				return f
			}
		case <-timeout:
			t.Fatalf("no %s frame", typ)
		}
	}
}

func connect(t *testing.T, url string) (*WebSocket, inbox) {
	t.Helper()
	ws := NewWebSocket(url, 0)
	in := make(inbox, 32)
	ws.OnMessage(func(f Frame) { in <- f })
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(context.Background()) })
	return ws, in
}

func TestPlayAgainstServer(t *testing.T) {
	log := zap.NewNop()
	reg := session.NewRegistry(session.Options{Logger: log})
	mgr := match.NewManager(store.NewMemory(), reg, nil,
		match.WithLogger(log),
		match.WithColorPicker(func() domain.Color { return domain.White }),
	)
	srv := wsserver.New(dispatch.New(mgr, reg, nil, log), wsserver.Options{Logger: log})
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	if err := NewClient(hs.URL).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	ctx := context.Background()
	white, win := connect(t, url)
	black, bin := connect(t, url)

	if err := white.Matchmaking(ctx, "alice"); err != nil {
		t.Fatalf("matchmaking: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := black.Matchmaking(ctx, "bob"); err != nil {
		t.Fatalf("matchmaking: %v", err)
	}

	var started chessdto.MatchStarted
	if err := win.next(t, chessdto.TypeMatchStarted).Decode(&started); err != nil || started.Color != "WHITE" {
		t.Fatalf("white start = %+v, %v", started, err)
	}
	bin.next(t, chessdto.TypeMatchStarted)

	if err := white.Positions(ctx, chessdto.Square{Row: 0, Column: 6}); err != nil {
		t.Fatalf("positions: %v", err)
	}
	var ap chessdto.AvailablePositions
	if err := win.next(t, chessdto.TypeAvailablePositions).Decode(&ap); err != nil || len(ap.Positions) != 2 {
		t.Fatalf("knight positions = %+v, %v", ap, err)
	}

	if err := white.Move(ctx, chessdto.Square{Row: 0, Column: 6}, chessdto.Square{Row: 2, Column: 5}); err != nil {
		t.Fatalf("move: %v", err)
	}
	var mv chessdto.MoveApplied
	if err := bin.next(t, chessdto.TypeMove).Decode(&mv); err != nil {
		t.Fatalf("decode move: %v", err)
	}
	if mv.History.Current != (chessdto.Square{Row: 2, Column: 5}) || mv.History.PieceType != "KNIGHT" {
		t.Fatalf("move = %+v", mv.History)
	}
	if white.State() != StateConnected {
		t.Fatalf("state = %s", white.State())
	}
}

func TestSendWithoutConnection(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/ws", 0)
	if err := ws.Matchmaking(context.Background(), "x"); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
