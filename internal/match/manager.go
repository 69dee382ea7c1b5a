// Package match runs the match lifecycle: matchmaking, start, move
// application, legal-move queries and reconnection.
package match

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/Cheese-arena/internal/adapter/chesspresenter"
	"github.com/park285/Cheese-arena/internal/board"
	"github.com/park285/Cheese-arena/internal/domain"
	"github.com/park285/Cheese-arena/internal/obslog"
	"github.com/park285/Cheese-arena/internal/rules"
	"github.com/park285/Cheese-arena/internal/session"
	"github.com/park285/Cheese-arena/internal/store"
	"github.com/park285/Cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

// Notifier is the slice of the session registry the manager needs.
type Notifier interface {
	Register(t session.Transport, player *domain.Player, m *domain.Match) *session.Session
	SendTo(ctx context.Context, s *session.Session, msg any) error
	BroadcastFunc(ctx context.Context, matchID string, build func(*session.Session) any) error
}

type Manager struct {
	store     store.Store
	sessions  Notifier
	presenter *chesspresenter.Presenter
	log       *zap.Logger

	// matchmaking serializes the store claim so a waiting match is taken once;
	// it is never held while a match lock is taken or a transport is written
	matchmaking sync.Mutex
	locks       *lockTable

	now       func() time.Time
	pickColor func() domain.Color
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithColorPicker overrides the color the match creator is seated on.
func WithColorPicker(pick func() domain.Color) Option {
	return func(m *Manager) { m.pickColor = pick }
}

func NewManager(st store.Store, n Notifier, p *chesspresenter.Presenter, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		sessions:  n,
		presenter: p,
		log:       obslog.L(),
		locks:     newLockTable(),
		now:       time.Now,
		pickColor: randomColor,
	}
	if m.presenter == nil {
		m.presenter = chesspresenter.NewPresenter(nil)
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func randomColor() domain.Color {
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 0 {
		return domain.White
	}
	return domain.Black
}

type seat int

const (
	seatResume seat = iota
	seatJoin
	seatCreate
)

// OnPlayerConnect upserts the player and then, in order: resumes the
// player's unfinished match, joins the oldest waiting match, or opens a new
// waiting match. Only the store claim runs under the matchmaking mutex;
// registration and notifications run under the match lock alone.
func (m *Manager) OnPlayerConnect(ctx context.Context, t session.Transport, username string) (*session.Session, error) {
	player, err := m.store.UpsertPlayer(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("upsert player: %w", err)
	}

	how, match, err := m.claim(ctx, player)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(match.ID)
	defer unlock()

	switch how {
	case seatJoin:
		return m.announceStart(ctx, t, player, match)
	default:
		return m.attach(ctx, t, player, match.ID, how)
	}
}

func (m *Manager) claim(ctx context.Context, player *domain.Player) (seat, *domain.Match, error) {
	m.matchmaking.Lock()
	defer m.matchmaking.Unlock()

	existing, err := m.store.FindUnfinishedMatch(ctx, player.ID)
	switch {
	case err == nil:
		return seatResume, existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return 0, nil, err
	}

	waiting, err := m.store.FindMatchmakingMatch(ctx, player.ID)
	switch {
	case err == nil:
		if err := m.start(ctx, player, waiting); err != nil {
			return 0, nil, err
		}
		return seatJoin, waiting, nil
	case !errors.Is(err, domain.ErrNotFound):
		return 0, nil, err
	}

	created, err := m.create(ctx, player)
	if err != nil {
		return 0, nil, err
	}
	return seatCreate, created, nil
}

// attach registers a resuming or creating player. The match is re-read
// under its lock: a waiting match may have been started since the claim,
// and a player whose opponent already broadcast MATCH_STARTED without
// them gets the current state instead.
func (m *Manager) attach(ctx context.Context, t session.Transport, player *domain.Player, matchID string, how seat) (*session.Session, error) {
	match, err := m.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	s := m.sessions.Register(t, player, match)
	if match.Status != domain.StatusOngoing {
		event := "matchmaking_wait"
		if how == seatResume {
			event = "matchmaking_resume"
		}
		m.log.Info(event,
			zap.String("match_id", match.ID),
			zap.String("player_id", player.ID),
			zap.String("color", string(s.Color)),
		)
		return s, nil
	}
	if how == seatCreate {
		m.sendStarted(ctx, s, match)
		return s, nil
	}

	pos, err := m.loadPosition(ctx, match.ID)
	if err != nil {
		return s, err
	}
	white, black := match.Usernames()
	msg := chessdto.Reconnected{
		Type:          chessdto.TypeReconnected,
		MatchID:       match.ID,
		Color:         string(s.Color),
		Pieces:        chesspresenter.ToDTOPieces(pos.Board.Pieces()),
		WhiteUsername: white,
		BlackUsername: black,
		Round:         match.Rounds,
		FEN:           pos.Board.FEN(),
		LastMove:      chesspresenter.ToDTOHistory(pos.LastMove()),
	}
	if err := m.sessions.SendTo(ctx, s, msg); err != nil {
		m.log.Warn("reconnect_send_error", zap.String("match_id", match.ID), zap.Error(err))
	}
	m.log.Info("match_reconnect",
		zap.String("match_id", match.ID),
		zap.String("player_id", player.ID),
		zap.String("color", string(s.Color)),
		zap.Int("round", match.Rounds),
	)
	return s, nil
}

func (m *Manager) create(ctx context.Context, player *domain.Player) (*domain.Match, error) {
	match := &domain.Match{
		ID:        uuid.NewString(),
		Status:    domain.StatusMatchmaking,
		CreatedAt: m.now(),
	}
	if m.pickColor() == domain.White {
		match.WhitePlayer = player
	} else {
		match.BlackPlayer = player
	}
	if err := m.store.CreateMatch(ctx, match); err != nil {
		return nil, err
	}
	return match, nil
}

// start seats the player, sets up the board and king caches and persists
// them as one unit.
func (m *Manager) start(ctx context.Context, player *domain.Player, match *domain.Match) error {
	if _, err := match.SetSecondPlayer(player); err != nil {
		return err
	}
	match.Status = domain.StatusOngoing
	match.StartedAt = m.now()

	pieces := board.Setup(match.ID)
	b, err := board.New(match.ID, pieces)
	if err != nil {
		return err
	}
	refresh := rules.RefreshKingCaches(b)
	kings := make([]*domain.KingThreatCache, 0, 2)
	for _, c := range []domain.Color{domain.White, domain.Black} {
		if k := refresh.Kings[c]; k != nil {
			kings = append(kings, k)
		}
	}
	return m.store.StartMatch(ctx, match, pieces, kings)
}

// announceStart registers the joining player and tells every registered
// player of the match its color.
func (m *Manager) announceStart(ctx context.Context, t session.Transport, player *domain.Player, match *domain.Match) (*session.Session, error) {
	s := m.sessions.Register(t, player, match)
	white, black := match.Usernames()
	err := m.sessions.BroadcastFunc(ctx, match.ID, func(rs *session.Session) any {
		return startedFor(match, rs)
	})
	if err != nil {
		m.log.Warn("match_start_notify_error", zap.String("match_id", match.ID), zap.Error(err))
	}
	m.log.Info("match_start",
		zap.String("match_id", match.ID),
		zap.String("white", white),
		zap.String("black", black),
		zap.String("joined_as", string(s.Color)),
	)
	return s, nil
}

func (m *Manager) sendStarted(ctx context.Context, s *session.Session, match *domain.Match) {
	if err := m.sessions.SendTo(ctx, s, startedFor(match, s)); err != nil {
		m.log.Warn("match_start_notify_error", zap.String("match_id", match.ID), zap.Error(err))
	}
}

func startedFor(match *domain.Match, s *session.Session) chessdto.MatchStarted {
	white, black := match.Usernames()
	return chessdto.MatchStarted{
		Type:          chessdto.TypeMatchStarted,
		MatchID:       match.ID,
		Color:         string(s.Color),
		WhiteUsername: white,
		BlackUsername: black,
	}
}

// OnMove validates and applies a move for the session's player. Every
// refusal is answered with INVALID_MOVE to the requester only; the returned
// error is reserved for storage failures that abort the request.
func (m *Manager) OnMove(ctx context.Context, s *session.Session, req chessdto.MoveRequest) error {
	from, to, ok := req.Squares()
	fromSq, toSq := chesspresenter.FromDTOSquare(from), chesspresenter.FromDTOSquare(to)
	if !ok || !fromSq.Valid() || !toSq.Valid() {
		return m.replyInvalidMove(ctx, s, reject(ErrMalformedMove, chessdto.ReasonMalformed,
			map[string]any{"Detail": "from and to must be squares on the board"}))
	}

	unlock := m.locks.Lock(s.MatchID)
	defer unlock()

	err := m.applyMove(ctx, s, fromSq, toSq)
	var rj *rejection
	if errors.As(err, &rj) {
		return m.replyInvalidMove(ctx, s, rj)
	}
	return err
}

func (m *Manager) applyMove(ctx context.Context, s *session.Session, from, to domain.Square) error {
	match, color, pos, err := m.turnState(ctx, s)
	if err != nil {
		return err
	}
	piece, err := m.ownPiece(pos, color, from)
	if err != nil {
		return err
	}
	dest, err := rules.Validate(piece, to, pos)
	if errors.Is(err, rules.ErrIllegalMove) {
		return reject(err, chessdto.ReasonIllegalDestination, map[string]any{"Square": from.String(), "Target": to.String()})
	}
	if err != nil {
		return err
	}

	b := pos.Board
	changed := make([]*domain.Piece, 0, 4)
	var captured *domain.Piece
	if sq, ok := dest.CaptureSquare(); ok {
		captured, err = b.Capture(sq)
		if err != nil {
			return fmt.Errorf("capture on %s: %w", sq, err)
		}
		changed = append(changed, captured)
	}
	if err := b.ApplyMove(piece, dest.To); err != nil {
		return err
	}
	changed = append(changed, piece)
	if dest.Castle != nil {
		rook := b.Piece(dest.Castle.RookID)
		if rook == nil {
			return fmt.Errorf("castling rook %s: %w", dest.Castle.RookID, domain.ErrNotFound)
		}
		if err := b.ApplyMove(rook, dest.Castle.To); err != nil {
			return err
		}
		changed = append(changed, rook)
	}

	if color == domain.White {
		match.Rounds++
	}
	checked := rules.CheckedColor(b, color)
	refresh := rules.RefreshKingCaches(b)
	changed = mergePieces(changed, refresh.Changed)

	seq := 1
	if last := pos.LastMove(); last != nil {
		seq = last.Seq + 1
	}
	entry := &domain.MoveHistoryEntry{
		ID:           uuid.NewString(),
		MatchID:      match.ID,
		PieceID:      piece.ID,
		PieceColor:   piece.Color,
		PieceType:    piece.Type,
		Round:        match.Rounds,
		Seq:          seq,
		Previous:     from,
		Current:      dest.To,
		CreatedAt:    m.now(),
		CheckedColor: checked,
	}
	kings := make([]*domain.KingThreatCache, 0, 2)
	for _, c := range []domain.Color{domain.White, domain.Black} {
		if k := refresh.Kings[c]; k != nil {
			kings = append(kings, k)
		}
	}
	err = m.store.CommitMove(ctx, store.MoveCommit{Match: match, Pieces: changed, Entry: entry, Kings: kings})
	if errors.Is(err, store.ErrConflict) {
		// another process moved first; the turn has passed
		return reject(ErrNotYourTurn, chessdto.ReasonNotYourTurn, map[string]any{"Turn": string(color.Opponent())})
	}
	if err != nil {
		return err
	}

	msg := chesspresenter.ToDTOMove(entry, dest, captured)
	if err := m.sessions.BroadcastFunc(ctx, match.ID, func(*session.Session) any { return msg }); err != nil {
		m.log.Warn("move_broadcast_error", zap.String("match_id", match.ID), zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("match_id", match.ID),
		zap.String("player_id", s.PlayerID),
		zap.String("piece", string(piece.Type)),
		zap.String("from", from.String()),
		zap.String("to", dest.To.String()),
		zap.Int("round", match.Rounds),
	}
	if captured != nil {
		fields = append(fields, zap.String("captured", string(captured.Type)))
	}
	if dest.Castle != nil {
		fields = append(fields, zap.Bool("castle", true))
	}
	if checked != "" {
		fields = append(fields, zap.String("check", string(checked)))
	}
	m.log.Info("move_applied", fields...)
	return nil
}

// OnQueryLegalMoves answers AVAILABLE_POSITIONS for one of the player's
// pieces, or INVALID when the query cannot be served.
func (m *Manager) OnQueryLegalMoves(ctx context.Context, s *session.Session, req chessdto.PositionsRequest) error {
	sq, ok := req.Square()
	at := chesspresenter.FromDTOSquare(sq)
	if !ok || !at.Valid() {
		return m.replyInvalid(ctx, s, reject(ErrMalformedMove, chessdto.ReasonMalformed,
			map[string]any{"Detail": "row and column must be on the board"}))
	}

	unlock := m.locks.Lock(s.MatchID)
	defer unlock()

	set, err := m.legalMoves(ctx, s, at)
	var rj *rejection
	if errors.As(err, &rj) {
		return m.replyInvalid(ctx, s, rj)
	}
	if err != nil {
		return err
	}
	msg := chessdto.AvailablePositions{
		Type:      chessdto.TypeAvailablePositions,
		Square:    sq,
		Positions: chesspresenter.ToDTOSquares(set.Squares()),
	}
	if err := m.sessions.SendTo(ctx, s, msg); err != nil {
		m.log.Warn("positions_send_error", zap.String("match_id", s.MatchID), zap.Error(err))
	}
	return nil
}

func (m *Manager) legalMoves(ctx context.Context, s *session.Session, at domain.Square) (rules.DestinationSet, error) {
	_, color, pos, err := m.turnState(ctx, s)
	if err != nil {
		return nil, err
	}
	piece, err := m.ownPiece(pos, color, at)
	if err != nil {
		return nil, err
	}
	return rules.LegalDestinations(piece, pos)
}

// turnState loads the match and position and checks that it is the
// session player's turn.
func (m *Manager) turnState(ctx context.Context, s *session.Session) (*domain.Match, domain.Color, rules.Position, error) {
	match, err := m.store.GetMatch(ctx, s.MatchID)
	if err != nil {
		return nil, "", rules.Position{}, err
	}
	if match.Status != domain.StatusOngoing {
		return nil, "", rules.Position{}, reject(ErrMatchNotOngoing, chessdto.ReasonMatchNotOngoing, nil)
	}
	color := match.ColorOf(s.PlayerID)
	if color == "" {
		return nil, "", rules.Position{}, reject(ErrNotInMatch, chessdto.ReasonNotInMatch, nil)
	}
	// the turn only needs the newest entry; the full position is loaded after
	last, err := m.store.LastMove(ctx, match.ID)
	if err != nil {
		return nil, "", rules.Position{}, err
	}
	if turn := turnOf(last); turn != color {
		return nil, "", rules.Position{}, reject(ErrNotYourTurn, chessdto.ReasonNotYourTurn, map[string]any{"Turn": string(turn)})
	}
	pos, err := m.loadPosition(ctx, match.ID)
	if err != nil {
		return nil, "", rules.Position{}, err
	}
	return match, color, pos, nil
}

func (m *Manager) ownPiece(pos rules.Position, color domain.Color, at domain.Square) (*domain.Piece, error) {
	piece, err := pos.Board.PieceAt(at)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, reject(ErrNoPiece, chessdto.ReasonNoPiece, map[string]any{"Square": at.String()})
	}
	if err != nil {
		return nil, err
	}
	if piece.Color != color {
		return nil, reject(ErrWrongColor, chessdto.ReasonWrongColor, map[string]any{"Square": at.String()})
	}
	return piece, nil
}

// turnOf is WHITE before the first move and the last mover's opponent after.
func turnOf(last *domain.MoveHistoryEntry) domain.Color {
	if last == nil {
		return domain.White
	}
	return last.PieceColor.Opponent()
}

func (m *Manager) loadPosition(ctx context.Context, matchID string) (rules.Position, error) {
	pieces, err := m.store.Pieces(ctx, matchID)
	if err != nil {
		return rules.Position{}, err
	}
	b, err := board.New(matchID, pieces)
	if err != nil {
		return rules.Position{}, err
	}
	history, err := m.store.History(ctx, matchID)
	if err != nil {
		return rules.Position{}, err
	}
	kings := make(map[domain.Color]*domain.KingThreatCache, 2)
	for _, c := range []domain.Color{domain.White, domain.Black} {
		k := b.King(c)
		if k == nil {
			continue
		}
		cache, err := m.store.KingCache(ctx, k.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return rules.Position{}, err
		}
		kings[c] = cache
	}
	return rules.Position{Board: b, History: history, Kings: kings}, nil
}

func (m *Manager) replyInvalidMove(ctx context.Context, s *session.Session, rj *rejection) error {
	m.log.Info("move_rejected",
		zap.String("match_id", s.MatchID),
		zap.String("player_id", s.PlayerID),
		zap.String("reason", rj.code),
	)
	if err := m.sessions.SendTo(ctx, s, m.presenter.InvalidMove(rj.code, rj.data)); err != nil {
		m.log.Warn("reject_send_error", zap.String("player_id", s.PlayerID), zap.Error(err))
	}
	return nil
}

func (m *Manager) replyInvalid(ctx context.Context, s *session.Session, rj *rejection) error {
	m.log.Debug("query_rejected",
		zap.String("match_id", s.MatchID),
		zap.String("player_id", s.PlayerID),
		zap.String("reason", rj.code),
	)
	if err := m.sessions.SendTo(ctx, s, m.presenter.Invalid(rj.code, rj.data)); err != nil {
		m.log.Warn("reject_send_error", zap.String("player_id", s.PlayerID), zap.Error(err))
	}
	return nil
}

func mergePieces(list, more []*domain.Piece) []*domain.Piece {
	seen := make(map[string]bool, len(list)+len(more))
	for _, p := range list {
		seen[p.ID] = true
	}
	for _, p := range more {
		if !seen[p.ID] {
			seen[p.ID] = true
			list = append(list, p)
		}
	}
	return list
}
