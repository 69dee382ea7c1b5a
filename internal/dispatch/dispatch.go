// Package dispatch decodes inbound frames and routes them to the match manager.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/park285/Cheese-arena/internal/adapter/chesspresenter"
	"github.com/park285/Cheese-arena/internal/domain"
	"github.com/park285/Cheese-arena/internal/obslog"
	"github.com/park285/Cheese-arena/internal/session"
	"github.com/park285/Cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

// ErrProtocol marks a frame that cannot be decoded or routed.
var ErrProtocol = errors.New("protocol error")

// Matches is what the dispatcher needs from the match manager.
type Matches interface {
	OnPlayerConnect(ctx context.Context, t session.Transport, username string) (*session.Session, error)
	OnMove(ctx context.Context, s *session.Session, req chessdto.MoveRequest) error
	OnQueryLegalMoves(ctx context.Context, s *session.Session, req chessdto.PositionsRequest) error
}

// Sessions is the part of the registry a connection touches on its own.
type Sessions interface {
	Detach(playerID string, t session.Transport) bool
}

type Dispatcher struct {
	matches   Matches
	sessions  Sessions
	presenter *chesspresenter.Presenter
	log       *zap.Logger
}

func New(m Matches, s Sessions, p *chesspresenter.Presenter, log *zap.Logger) *Dispatcher {
	if p == nil {
		p = chesspresenter.NewPresenter(nil)
	}
	if log == nil {
		log = obslog.L()
	}
	return &Dispatcher{matches: m, sessions: s, presenter: p, log: log}
}

// Client is the per-connection state. Frames of one connection are
// handled in order by its read loop.
type Client struct {
	d *Dispatcher
	t session.Transport

	mu      sync.Mutex
	session *session.Session
}

func (d *Dispatcher) NewClient(t session.Transport) *Client {
	return &Client{d: d, t: t}
}

// Session returns the bound session, nil before MATCHMAKING.
func (c *Client) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Handle processes one frame. Protocol errors are answered with INVALID
// and returned; not-found errors abort the request and are returned after
// logging. Rejections are answered by the manager and yield nil.
func (c *Client) Handle(ctx context.Context, frame []byte) error {
	var env chessdto.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return c.protocolError(ctx, chessdto.ReasonMalformed, fmt.Errorf("%w: decode envelope: %v", ErrProtocol, err))
	}

	var err error
	switch env.Type {
	case chessdto.TypeMatchmaking:
		err = c.matchmaking(ctx, frame)
	case chessdto.TypeMove:
		err = c.move(ctx, frame)
	case chessdto.TypeGetPieceAvailablePositions:
		err = c.positions(ctx, frame)
	default:
		return c.protocolError(ctx, chessdto.ReasonUnknownType,
			fmt.Errorf("%w: unknown type %q", ErrProtocol, env.Type), map[string]any{"Detail": string(env.Type)})
	}
	if errors.Is(err, domain.ErrNotFound) {
		c.d.log.Warn("request_not_found", zap.String("type", string(env.Type)), zap.Error(err))
	}
	return err
}

func (c *Client) matchmaking(ctx context.Context, frame []byte) error {
	var req chessdto.MatchmakingRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return c.protocolError(ctx, chessdto.ReasonMalformed, fmt.Errorf("%w: decode matchmaking: %v", ErrProtocol, err))
	}
	name := strings.TrimSpace(req.Username)
	if name == "" {
		return c.protocolError(ctx, chessdto.ReasonMalformed, fmt.Errorf("%w: empty username", ErrProtocol),
			map[string]any{"Detail": "username is required"})
	}
	s, err := c.d.matches.OnPlayerConnect(ctx, c.t, name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return nil
}

func (c *Client) move(ctx context.Context, frame []byte) error {
	s := c.Session()
	if s == nil {
		return c.protocolError(ctx, chessdto.ReasonNotInMatch, fmt.Errorf("%w: move before matchmaking", ErrProtocol))
	}
	var req chessdto.MoveRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		// a move that does not decode is still a move; reply like any refused move
		return c.reply(ctx, c.d.presenter.InvalidMove(chessdto.ReasonMalformed, map[string]any{"Detail": "move does not decode"}))
	}
	return c.d.matches.OnMove(ctx, s, req)
}

func (c *Client) positions(ctx context.Context, frame []byte) error {
	s := c.Session()
	if s == nil {
		return c.protocolError(ctx, chessdto.ReasonNotInMatch, fmt.Errorf("%w: query before matchmaking", ErrProtocol))
	}
	var req chessdto.PositionsRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return c.protocolError(ctx, chessdto.ReasonMalformed, fmt.Errorf("%w: decode query: %v", ErrProtocol, err))
	}
	return c.d.matches.OnQueryLegalMoves(ctx, s, req)
}

// Disconnect drops the session if it still belongs to this connection.
func (c *Client) Disconnect() {
	s := c.Session()
	if s == nil {
		return
	}
	if c.d.sessions.Detach(s.PlayerID, c.t) {
		c.d.log.Info("session_detach", zap.String("player_id", s.PlayerID), zap.String("match_id", s.MatchID))
	}
}

func (c *Client) protocolError(ctx context.Context, code string, err error, data ...map[string]any) error {
	var d map[string]any
	if len(data) > 0 {
		d = data[0]
	}
	c.d.log.Debug("protocol_error", zap.String("reason", code), zap.Error(err))
	if rerr := c.reply(ctx, c.d.presenter.Invalid(code, d)); rerr != nil {
		c.d.log.Debug("protocol_error_reply", zap.Error(rerr))
	}
	return err
}

// reply writes directly to the transport; before matchmaking there is no session.
func (c *Client) reply(ctx context.Context, msg any) error {
	if !c.t.Open() {
		return session.ErrTransportClosed
	}
	return c.t.Send(ctx, msg)
}
