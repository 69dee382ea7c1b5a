package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/Cheese-arena/internal/domain"
)

// memory is the in-process backend used for development and tests.
type memory struct {
	mu sync.RWMutex

	players map[string]*domain.Player // username -> player
	matches map[string]*domain.Match
	pieces  map[string]map[string]*domain.Piece // matchID -> pieceID -> piece
	history map[string][]*domain.MoveHistoryEntry // matchID -> entries, oldest first
	kings   map[string]*domain.KingThreatCache   // king pieceID -> cache
}

func NewMemory() Store {
	return &memory{
		players: make(map[string]*domain.Player),
		matches: make(map[string]*domain.Match),
		pieces:  make(map[string]map[string]*domain.Piece),
		history: make(map[string][]*domain.MoveHistoryEntry),
		kings:   make(map[string]*domain.KingThreatCache),
	}
}

func (m *memory) UpsertPlayer(ctx context.Context, username string) (*domain.Player, error) {
	name, err := cleanUsername(username)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[name]; ok {
		cp := *p
		return &cp, nil
	}
	p := &domain.Player{ID: uuid.NewString(), Username: name, CreatedAt: time.Now()}
	m.players[name] = p
	cp := *p
	return &cp, nil
}

func (m *memory) CreateMatch(ctx context.Context, match *domain.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[match.ID] = match.Clone()
	return nil
}

func (m *memory) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matches[strings.TrimSpace(id)]
	if !ok {
		return nil, notFound("match", id)
	}
	return match.Clone(), nil
}

func (m *memory) FindUnfinishedMatch(ctx context.Context, playerID string) (*domain.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *domain.Match
	for _, match := range m.matches {
		if !match.HasPlayer(playerID) {
			continue
		}
		if match.Status != domain.StatusMatchmaking && match.Status != domain.StatusOngoing {
			continue
		}
		if best == nil || match.CreatedAt.After(best.CreatedAt) {
			best = match
		}
	}
	if best == nil {
		return nil, notFound("unfinished match for player", playerID)
	}
	return best.Clone(), nil
}

func (m *memory) FindMatchmakingMatch(ctx context.Context, excludePlayerID string) (*domain.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	waiting := make([]*domain.Match, 0)
	for _, match := range m.matches {
		if match.Status == domain.StatusMatchmaking && !match.HasPlayer(excludePlayerID) {
			waiting = append(waiting, match)
		}
	}
	if len(waiting) == 0 {
		return nil, notFound("matchmaking match excluding", excludePlayerID)
	}
	sort.Slice(waiting, func(i, j int) bool {
		if !waiting[i].CreatedAt.Equal(waiting[j].CreatedAt) {
			return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
		}
		return waiting[i].ID < waiting[j].ID
	})
	return waiting[0].Clone(), nil
}

func (m *memory) StartMatch(ctx context.Context, match *domain.Match, pieces []*domain.Piece, kings []*domain.KingThreatCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.matches[match.ID]; !ok {
		return notFound("match", match.ID)
	}
	m.matches[match.ID] = match.Clone()
	set := make(map[string]*domain.Piece, len(pieces))
	for _, p := range pieces {
		set[p.ID] = p.Clone()
	}
	m.pieces[match.ID] = set
	for _, k := range kings {
		m.kings[k.PieceID] = k.Clone()
	}
	return nil
}

func (m *memory) Pieces(ctx context.Context, matchID string) ([]*domain.Piece, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.pieces[matchID]
	if !ok {
		return nil, notFound("pieces for match", matchID)
	}
	out := make([]*domain.Piece, 0, len(set))
	for _, p := range set {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memory) History(ctx context.Context, matchID string) ([]*domain.MoveHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.history[matchID]
	out := make([]*domain.MoveHistoryEntry, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		e := *list[i]
		out = append(out, &e)
	}
	return out, nil
}

func (m *memory) LastMove(ctx context.Context, matchID string) (*domain.MoveHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.history[matchID]
	if len(list) == 0 {
		return nil, nil
	}
	e := *list[len(list)-1]
	return &e, nil
}

func (m *memory) KingCache(ctx context.Context, pieceID string) (*domain.KingThreatCache, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kings[pieceID]
	if !ok {
		return nil, notFound("king cache", pieceID)
	}
	return k.Clone(), nil
}

func (m *memory) CommitMove(ctx context.Context, c MoveCommit) error {
	if err := c.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.matches[c.Match.ID]; !ok {
		return notFound("match", c.Match.ID)
	}
	set, ok := m.pieces[c.Match.ID]
	if !ok {
		return notFound("pieces for match", c.Match.ID)
	}
	head := 0
	if h := m.history[c.Match.ID]; len(h) > 0 {
		head = h[len(h)-1].Seq
	}
	if err := c.checkHead(head); err != nil {
		return err
	}
	m.matches[c.Match.ID] = c.Match.Clone()
	for _, p := range c.Pieces {
		set[p.ID] = p.Clone()
	}
	e := *c.Entry
	m.history[c.Match.ID] = append(m.history[c.Match.ID], &e)
	for _, k := range c.Kings {
		m.kings[k.PieceID] = k.Clone()
	}
	return nil
}

func (m *memory) Close() error { return nil }
