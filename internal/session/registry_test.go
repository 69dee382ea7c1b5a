package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-arena/internal/domain"
	"github.com/park285/Cheese-arena/pkg/chessdto"
	"go.uber.org/multierr"
)

type fakeTransport struct {
	mu      sync.Mutex
	open    bool
	failErr error
	sent    []any
	closed  string
}

func newFake() *fakeTransport { return &fakeTransport{open: true} }

func (f *fakeTransport) Send(ctx context.Context, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closed = reason
	return nil
}

func (f *fakeTransport) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func fixture() (*domain.Match, *domain.Player, *domain.Player) {
	white := &domain.Player{ID: "p-white", Username: "alice"}
	black := &domain.Player{ID: "p-black", Username: "bob"}
	m := &domain.Match{ID: "m1", Status: domain.StatusOngoing, WhitePlayer: white, BlackPlayer: black}
	return m, white, black
}

func TestRegisterAssignsColor(t *testing.T) {
	r := NewRegistry(Options{})
	m, white, black := fixture()
	if s := r.Register(newFake(), white, m); s.Color != domain.White || s.MatchID != "m1" {
		t.Fatalf("white session = %+v", s)
	}
	if s := r.Register(newFake(), black, m); s.Color != domain.Black {
		t.Fatalf("black session = %+v", s)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestRegisterReplacesAndDetachIsScoped(t *testing.T) {
	r := NewRegistry(Options{})
	m, white, _ := fixture()
	old, cur := newFake(), newFake()
	r.Register(old, white, m)
	r.Register(cur, white, m)
	if old.closed != "replaced" {
		t.Fatalf("old transport not closed, reason=%q", old.closed)
	}
	if r.Detach(white.ID, old) {
		t.Fatalf("detaching a replaced transport must not evict the new one")
	}
	if s, ok := r.Get(white.ID); !ok || s.Transport != cur {
		t.Fatalf("current session lost")
	}
	if !r.Detach(white.ID, cur) || r.Len() != 0 {
		t.Fatalf("Detach of current transport failed")
	}
}

func TestBroadcastReachesOnlyMatchSessions(t *testing.T) {
	r := NewRegistry(Options{})
	m, white, black := fixture()
	wt, bt, other := newFake(), newFake(), newFake()
	r.Register(wt, white, m)
	r.Register(bt, black, m)
	r.Register(other, &domain.Player{ID: "p3"}, &domain.Match{ID: "m2"})

	if err := r.BroadcastFunc(context.Background(), "m1", func(*Session) any { return "hello" }); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(wt.messages()) != 1 || len(bt.messages()) != 1 || len(other.messages()) != 0 {
		t.Fatalf("sent white=%d black=%d other=%d", len(wt.messages()), len(bt.messages()), len(other.messages()))
	}

	err := r.BroadcastFunc(context.Background(), "m1", func(s *Session) any { return string(s.Color) })
	if err != nil {
		t.Fatalf("BroadcastFunc: %v", err)
	}
	if got := wt.messages()[1]; got != "WHITE" {
		t.Fatalf("white got %v", got)
	}
	if got := bt.messages()[1]; got != "BLACK" {
		t.Fatalf("black got %v", got)
	}
}

func TestBroadcastFailureMarksDeadAndSweepRemovesIt(t *testing.T) {
	r := NewRegistry(Options{})
	m, white, black := fixture()
	wt, bt := newFake(), newFake()
	bt.failErr = errors.New("broken pipe")
	r.Register(wt, white, m)
	r.Register(bt, black, m)

	if err := r.BroadcastFunc(context.Background(), "m1", func(*Session) any { return "x" }); err == nil {
		t.Fatalf("expected aggregated error")
	}
	if len(wt.messages()) != 1 {
		t.Fatalf("healthy recipient should still receive the message")
	}
	if s, _ := r.Get(black.ID); !s.Dead() {
		t.Fatalf("failed recipient not marked dead")
	}
	if n := r.Sweep(context.Background()); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if _, ok := r.Get(black.ID); ok {
		t.Fatalf("dead session still registered")
	}
	if _, ok := r.Get(white.ID); !ok {
		t.Fatalf("healthy session removed")
	}
}

func TestBroadcastReportsEveryFailedRecipient(t *testing.T) {
	r := NewRegistry(Options{})
	m, white, black := fixture()
	wt, bt := newFake(), newFake()
	wt.failErr = errors.New("reset by peer")
	bt.failErr = errors.New("broken pipe")
	r.Register(wt, white, m)
	r.Register(bt, black, m)

	err := r.BroadcastFunc(context.Background(), "m1", func(*Session) any { return "x" })
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("aggregated %d errors, want 2: %v", got, err)
	}
	if err := r.BroadcastFunc(context.Background(), "m2", func(*Session) any { return "x" }); err != nil {
		t.Fatalf("empty match: %v", err)
	}
}

func TestSweepPingsOpenAndRemovesClosed(t *testing.T) {
	r := NewRegistry(Options{})
	m, white, black := fixture()
	wt, bt := newFake(), newFake()
	r.Register(wt, white, m)
	r.Register(bt, black, m)
	bt.open = false

	if n := r.Sweep(context.Background()); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	msgs := wt.messages()
	if len(msgs) != 1 {
		t.Fatalf("open session got %d messages", len(msgs))
	}
	if p, ok := msgs[0].(chessdto.Ping); !ok || p.Type != chessdto.TypePing {
		t.Fatalf("expected PING, got %#v", msgs[0])
	}
	if len(bt.messages()) != 0 {
		t.Fatalf("closed session should not be pinged")
	}
}

func TestSendToClosedTransport(t *testing.T) {
	r := NewRegistry(Options{})
	m, white, _ := fixture()
	wt := newFake()
	r.Register(wt, white, m)
	wt.open = false
	s, _ := r.Get(white.ID)
	if err := r.SendTo(context.Background(), s, "x"); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
	if !s.Dead() {
		t.Fatalf("session not marked dead")
	}
}

func TestScheduledSweep(t *testing.T) {
	r := NewRegistry(Options{SweepInterval: 20 * time.Millisecond})
	m, white, _ := fixture()
	wt := newFake()
	r.Register(wt, white, m)
	wt.mu.Lock()
	wt.open = false
	wt.mu.Unlock()

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := r.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("scheduled sweep did not remove the closed session")
}
