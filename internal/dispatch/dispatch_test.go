package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/park285/Cheese-arena/internal/domain"
	"github.com/park285/Cheese-arena/internal/session"
	"github.com/park285/Cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeTransport) Send(ctx context.Context, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeTransport) Open() bool         { return true }
func (f *fakeTransport) Close(string) error { return nil }

func (f *fakeTransport) last() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type fakeMatches struct {
	connected string
	moves     []chessdto.MoveRequest
	queries   []chessdto.PositionsRequest
	moveErr   error
}

func (f *fakeMatches) OnPlayerConnect(ctx context.Context, t session.Transport, username string) (*session.Session, error) {
	f.connected = username
	return &session.Session{Transport: t, PlayerID: "p-" + username, Username: username, MatchID: "m1", Color: domain.White}, nil
}

func (f *fakeMatches) OnMove(ctx context.Context, s *session.Session, req chessdto.MoveRequest) error {
	f.moves = append(f.moves, req)
	return f.moveErr
}

func (f *fakeMatches) OnQueryLegalMoves(ctx context.Context, s *session.Session, req chessdto.PositionsRequest) error {
	f.queries = append(f.queries, req)
	return nil
}

type fakeSessions struct{ detached []string }

func (f *fakeSessions) Detach(playerID string, t session.Transport) bool {
	f.detached = append(f.detached, playerID)
	return true
}

func newClient() (*Client, *fakeTransport, *fakeMatches, *fakeSessions) {
	m, s, tr := &fakeMatches{}, &fakeSessions{}, &fakeTransport{}
	d := New(m, s, nil, zap.NewNop())
	return d.NewClient(tr), tr, m, s
}

func invalidReason(t *testing.T, msg any) string {
	t.Helper()
	rj, ok := msg.(chessdto.Rejection)
	if !ok || rj.Type != chessdto.TypeInvalid {
		t.Fatalf("expected INVALID, got %#v", msg)
	}
	return rj.Reason
}

func TestRoutesByType(t *testing.T) {
	c, _, m, _ := newClient()
	ctx := context.Background()

	if err := c.Handle(ctx, []byte(`{"type":"MATCHMAKING","username":"  alice "}`)); err != nil {
		t.Fatalf("matchmaking: %v", err)
	}
	if m.connected != "alice" || c.Session() == nil {
		t.Fatalf("connect not routed, username=%q", m.connected)
	}

	if err := c.Handle(ctx, []byte(`{"type":"MOVE","fromRow":1,"fromColumn":4,"toRow":3,"toColumn":4}`)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := c.Handle(ctx, []byte(`{"type":"MOVE","from":{"row":6,"column":4},"to":{"row":4,"column":4}}`)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(m.moves) != 2 {
		t.Fatalf("moves routed = %d", len(m.moves))
	}
	from, to, ok := m.moves[0].Squares()
	if !ok || from != (chessdto.Square{Row: 1, Column: 4}) || to != (chessdto.Square{Row: 3, Column: 4}) {
		t.Fatalf("flat move decoded as %v %v %v", from, to, ok)
	}
	from, _, _ = m.moves[1].Squares()
	if from != (chessdto.Square{Row: 6, Column: 4}) {
		t.Fatalf("nested move decoded as %v", from)
	}

	if err := c.Handle(ctx, []byte(`{"type":"GET_PIECE_AVAILABLE_POSITIONS","row":1,"column":4}`)); err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(m.queries) != 1 {
		t.Fatalf("query not routed")
	}
}

func TestProtocolErrorsReplyInvalid(t *testing.T) {
	cases := []struct {
		name   string
		frame  string
		reason string
	}{
		{"not json", `{"type":`, chessdto.ReasonMalformed},
		{"unknown type", `{"type":"RESIGN"}`, chessdto.ReasonUnknownType},
		{"no username", `{"type":"MATCHMAKING","username":" "}`, chessdto.ReasonMalformed},
		{"move before matchmaking", `{"type":"MOVE","fromRow":1,"fromColumn":4,"toRow":3,"toColumn":4}`, chessdto.ReasonNotInMatch},
		{"query before matchmaking", `{"type":"GET_PIECE_AVAILABLE_POSITIONS","row":1,"column":4}`, chessdto.ReasonNotInMatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, tr, _, _ := newClient()
			err := c.Handle(context.Background(), []byte(tc.frame))
			if !errors.Is(err, ErrProtocol) {
				t.Fatalf("expected ErrProtocol, got %v", err)
			}
			if got := invalidReason(t, tr.last()); got != tc.reason {
				t.Fatalf("reason = %s, want %s", got, tc.reason)
			}
		})
	}
}

func TestUndecodableMoveIsInvalidMove(t *testing.T) {
	c, tr, m, _ := newClient()
	ctx := context.Background()
	_ = c.Handle(ctx, []byte(`{"type":"MATCHMAKING","username":"alice"}`))
	if err := c.Handle(ctx, []byte(`{"type":"MOVE","fromRow":"one"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	rj, ok := tr.last().(chessdto.Rejection)
	if !ok || rj.Type != chessdto.TypeInvalidMove || rj.Reason != chessdto.ReasonMalformed {
		t.Fatalf("got %#v", tr.last())
	}
	if len(m.moves) != 0 {
		t.Fatalf("undecodable move reached the manager")
	}
}

func TestNotFoundAbortsRequest(t *testing.T) {
	c, _, m, _ := newClient()
	ctx := context.Background()
	_ = c.Handle(ctx, []byte(`{"type":"MATCHMAKING","username":"alice"}`))
	m.moveErr = fmt.Errorf("match m1: %w", domain.ErrNotFound)
	err := c.Handle(ctx, []byte(`{"type":"MOVE","fromRow":1,"fromColumn":4,"toRow":3,"toColumn":4}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDisconnectDetaches(t *testing.T) {
	c, _, _, s := newClient()
	c.Disconnect()
	if len(s.detached) != 0 {
		t.Fatalf("detached before matchmaking")
	}
	_ = c.Handle(context.Background(), []byte(`{"type":"MATCHMAKING","username":"alice"}`))
	c.Disconnect()
	if len(s.detached) != 1 || s.detached[0] != "p-alice" {
		t.Fatalf("detached = %v", s.detached)
	}
}
