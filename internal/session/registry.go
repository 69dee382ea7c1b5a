// Package session tracks live client connections keyed by player and fans
// messages out to the players of a match.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/park285/Cheese-arena/internal/domain"
	"github.com/park285/Cheese-arena/internal/obslog"
	"github.com/park285/Cheese-arena/pkg/chessdto"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is one client connection. Send must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, msg any) error
	Open() bool
	Close(reason string) error
}

// Session binds a transport to the player and match it speaks for.
type Session struct {
	Transport Transport
	PlayerID  string
	Username  string
	MatchID   string
	Color     domain.Color

	dead atomic.Bool
}

// Dead reports whether a send to this session has failed.
func (s *Session) Dead() bool { return s.dead.Load() }

type Options struct {
	SendTimeout   time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // playerID -> session

	sendTimeout time.Duration
	interval    time.Duration
	log         *zap.Logger

	schedMu sync.Mutex
	sched   gocron.Scheduler
}

func NewRegistry(opts Options) *Registry {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = obslog.L()
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		sendTimeout: opts.SendTimeout,
		interval:    opts.SweepInterval,
		log:         opts.Logger,
	}
}

// Register binds the transport to the player and match, replacing any
// previous session for that player. The replaced transport is closed.
func (r *Registry) Register(t Transport, player *domain.Player, m *domain.Match) *Session {
	s := &Session{
		Transport: t,
		PlayerID:  player.ID,
		Username:  player.Username,
		MatchID:   m.ID,
		Color:     m.ColorOf(player.ID),
	}
	r.mu.Lock()
	prev := r.sessions[player.ID]
	r.sessions[player.ID] = s
	r.mu.Unlock()

	if prev != nil && prev.Transport != t {
		if err := prev.Transport.Close("replaced"); err != nil {
			r.log.Debug("session_replace_close", zap.String("player_id", player.ID), zap.Error(err))
		}
	}
	r.log.Info("session_register",
		zap.String("player_id", s.PlayerID),
		zap.String("match_id", s.MatchID),
		zap.String("color", string(s.Color)),
		zap.Bool("replaced", prev != nil),
	)
	return s
}

// Detach removes the player's session only while it still belongs to t, so a
// late disconnect cannot evict a newer connection.
func (r *Registry) Detach(playerID string, t Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[playerID]
	if !ok || s.Transport != t {
		return false
	}
	delete(r.sessions, playerID)
	return true
}

func (r *Registry) Get(playerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[playerID]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) matchSessions(matchID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, 2)
	for _, s := range r.sessions {
		if s.MatchID == matchID {
			out = append(out, s)
		}
	}
	return out
}

// SendTo replies on a specific session even if the player has since reconnected.
func (r *Registry) SendTo(ctx context.Context, s *Session, msg any) error {
	return r.deliver(ctx, s, msg)
}

func (r *Registry) deliver(ctx context.Context, s *Session, msg any) error {
	if !s.Transport.Open() {
		s.dead.Store(true)
		return fmt.Errorf("player %s: %w", s.PlayerID, ErrTransportClosed)
	}
	sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	if err := s.Transport.Send(sctx, msg); err != nil {
		s.dead.Store(true)
		return fmt.Errorf("send to player %s: %w", s.PlayerID, err)
	}
	return nil
}

// BroadcastFunc builds one message per recipient, for payloads that differ
// by color. Recipients are written concurrently and the call returns once
// all writes finished. A failed recipient is marked dead for the next sweep
// and does not stop the others.
func (r *Registry) BroadcastFunc(ctx context.Context, matchID string, build func(*Session) any) error {
	recipients := r.matchSessions(matchID)
	errs := make([]error, len(recipients))
	var g errgroup.Group
	for i, s := range recipients {
		g.Go(func() error {
			errs[i] = r.deliver(ctx, s, build(s))
			return errs[i]
		})
	}
	if g.Wait() == nil {
		return nil
	}
	// Wait reports only the first failure
	err := multierr.Combine(errs...)
	r.log.Warn("broadcast_partial_failure", zap.String("match_id", matchID), zap.Error(err))
	return err
}

// Sweep pings every open session and removes the ones that are closed,
// already marked dead, or fail the ping. It returns how many were removed.
func (r *Registry) Sweep(ctx context.Context) int {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	var stale []*Session
	for _, s := range snapshot {
		if s.Dead() || !s.Transport.Open() {
			stale = append(stale, s)
			continue
		}
		if err := r.deliver(ctx, s, chessdto.NewPing()); err != nil {
			stale = append(stale, s)
		}
	}

	removed := 0
	r.mu.Lock()
	for _, s := range stale {
		if cur, ok := r.sessions[s.PlayerID]; ok && cur == s {
			delete(r.sessions, s.PlayerID)
			removed++
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		_ = s.Transport.Close("unresponsive")
	}
	if removed > 0 {
		r.log.Info("session_sweep", zap.Int("removed", removed), zap.Int("checked", len(snapshot)))
	}
	return removed
}

// Start runs Sweep on the configured interval. Runs never overlap.
func (r *Registry) Start() error {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	if r.sched != nil {
		return nil
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.Sweep(context.Background()) }),
		gocron.WithName("session-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.Start()
	r.sched = s
	r.log.Info("session_sweep_start", zap.Duration("interval", r.interval))
	return nil
}

func (r *Registry) Stop() error {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	if r.sched == nil {
		return nil
	}
	err := r.sched.Shutdown()
	r.sched = nil
	return err
}
