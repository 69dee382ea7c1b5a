// Package store persists players, matches, pieces, move history and king
// threat caches. Every backend returns copies; callers own what they get.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/Cheese-arena/internal/domain"
)

// ErrConflict reports a move commit whose history no longer ends where the
// move was validated, because another writer committed first.
var ErrConflict = errors.New("concurrent move commit")

// Store is the storage collaborator used by the match lifecycle.
//
// Lookups that find nothing return an error wrapping domain.ErrNotFound.
// LastMove is the exception: no move yet is a nil entry and a nil error.
type Store interface {
	UpsertPlayer(ctx context.Context, username string) (*domain.Player, error)

	CreateMatch(ctx context.Context, m *domain.Match) error
	GetMatch(ctx context.Context, id string) (*domain.Match, error)
	// FindUnfinishedMatch returns the most recent MATCHMAKING or ONGOING match the player sits in.
	FindUnfinishedMatch(ctx context.Context, playerID string) (*domain.Match, error)
	// FindMatchmakingMatch returns the oldest waiting match the player is not part of.
	FindMatchmakingMatch(ctx context.Context, excludePlayerID string) (*domain.Match, error)
	// StartMatch stores the started match, its full piece set and both king caches as one unit.
	StartMatch(ctx context.Context, m *domain.Match, pieces []*domain.Piece, kings []*domain.KingThreatCache) error

	Pieces(ctx context.Context, matchID string) ([]*domain.Piece, error)
	// History is ordered most recent first.
	History(ctx context.Context, matchID string) ([]*domain.MoveHistoryEntry, error)
	LastMove(ctx context.Context, matchID string) (*domain.MoveHistoryEntry, error)
	KingCache(ctx context.Context, pieceID string) (*domain.KingThreatCache, error)

	// CommitMove writes everything one applied move changed as one unit. It
	// fails with ErrConflict unless Entry.Seq directly follows the stored head.
	CommitMove(ctx context.Context, c MoveCommit) error

	Close() error
}

// MoveCommit is the unit of work produced by one applied move.
type MoveCommit struct {
	Match *domain.Match
	// Pieces holds only the pieces whose square, capture flag or pin changed.
	Pieces []*domain.Piece
	Entry  *domain.MoveHistoryEntry
	Kings  []*domain.KingThreatCache
}

func (c MoveCommit) validate() error {
	if c.Match == nil || c.Entry == nil {
		return fmt.Errorf("move commit requires match and history entry")
	}
	if c.Entry.MatchID != c.Match.ID {
		return fmt.Errorf("history entry belongs to match %s, not %s", c.Entry.MatchID, c.Match.ID)
	}
	return nil
}

func (c MoveCommit) checkHead(headSeq int) error {
	if c.Entry.Seq != headSeq+1 {
		return fmt.Errorf("%w: match %s head is seq %d, entry is seq %d", ErrConflict, c.Match.ID, headSeq, c.Entry.Seq)
	}
	return nil
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, strings.TrimSpace(id), domain.ErrNotFound)
}

func cleanUsername(username string) (string, error) {
	u := strings.TrimSpace(username)
	if u == "" {
		return "", fmt.Errorf("username required")
	}
	return u, nil
}
