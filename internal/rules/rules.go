// Package rules computes legal destinations, threats, check and pins.
//
// Every function here is a pure read of the board and history; nothing is
// mutated except through RefreshKingCaches, which rewrites advisory pins.
package rules

import (
	"errors"
	"fmt"

	"github.com/park285/Cheese-arena/internal/board"
	"github.com/park285/Cheese-arena/internal/domain"
)

// ErrIllegalMove is returned when a destination is not in the legal set.
var ErrIllegalMove = errors.New("illegal move")

// Castle describes the rook co-move that accompanies a castling king move.
type Castle struct {
	RookID string        `json:"rookId"`
	From   domain.Square `json:"from"`
	To     domain.Square `json:"to"`
}

// Destination is one legal target square plus the side effects moving there implies.
type Destination struct {
	To domain.Square
	// Captures is true when an opponent piece is removed by this move.
	Captures bool
	// EnPassantCapture is the square of the pawn taken en passant, which
	// differs from To.
	EnPassantCapture *domain.Square
	Castle           *Castle
}

// CaptureSquare returns the square whose occupant is removed, if any.
func (d Destination) CaptureSquare() (domain.Square, bool) {
	if d.EnPassantCapture != nil {
		return *d.EnPassantCapture, true
	}
	return d.To, d.Captures
}

// DestinationSet is an ordered set of destinations.
type DestinationSet []Destination

func (s DestinationSet) Find(sq domain.Square) (Destination, bool) {
	for _, d := range s {
		if d.To == sq {
			return d, true
		}
	}
	return Destination{}, false
}

func (s DestinationSet) Contains(sq domain.Square) bool {
	_, ok := s.Find(sq)
	return ok
}

func (s DestinationSet) Squares() []domain.Square {
	out := make([]domain.Square, 0, len(s))
	for _, d := range s {
		out = append(out, d.To)
	}
	return out
}

// Position is everything legality depends on for one match.
type Position struct {
	Board *board.Board
	// History is ordered most recent first.
	History []*domain.MoveHistoryEntry
	// Kings holds the threat cache per king color; missing entries are computed on demand.
	Kings map[domain.Color]*domain.KingThreatCache
}

// LastMove returns the most recent history entry or nil before the first move.
func (pos Position) LastMove() *domain.MoveHistoryEntry {
	if len(pos.History) == 0 {
		return nil
	}
	return pos.History[0]
}

// LegalDestinations dispatches by piece type.
func LegalDestinations(p *domain.Piece, pos Position) (DestinationSet, error) {
	if p == nil || p.Captured {
		return nil, fmt.Errorf("piece %w", domain.ErrNotFound)
	}
	switch p.Type {
	case domain.Pawn:
		return pawnDestinations(p, pos), nil
	case domain.Knight:
		return knightDestinations(p, pos.Board), nil
	case domain.Bishop, domain.Rook, domain.Queen:
		return slidingDestinations(p, pos.Board), nil
	case domain.King:
		return kingDestinations(p, pos), nil
	default:
		return nil, fmt.Errorf("unknown piece type %q", p.Type)
	}
}

// Validate returns the matching destination or ErrIllegalMove.
func Validate(p *domain.Piece, to domain.Square, pos Position) (Destination, error) {
	set, err := LegalDestinations(p, pos)
	if err != nil {
		return Destination{}, err
	}
	d, ok := set.Find(to)
	if !ok {
		return Destination{}, fmt.Errorf("%w: %s %s to %s", ErrIllegalMove, p.Type, p.Square, to)
	}
	return d, nil
}

// Attacks returns the squares a piece threatens. Unlike legal destinations,
// pawn diagonals count regardless of occupancy and rays include the first
// occupied square of either color, so defended pieces show as threatened.
func Attacks(p *domain.Piece, b *board.Board) []domain.Square {
	return attacks(p, b, nil)
}

// attacks treats ignore (when set) as empty, so a king does not shield the
// squares behind itself from a slider.
func attacks(p *domain.Piece, b *board.Board, ignore *domain.Square) []domain.Square {
	var out []domain.Square
	switch p.Type {
	case domain.Pawn:
		dir := p.Color.Forward()
		for _, dc := range []int{-1, 1} {
			if sq := p.Square.Offset(dir, dc); sq.Valid() {
				out = append(out, sq)
			}
		}
	case domain.Knight:
		for _, o := range knightOffsets {
			if sq := p.Square.Offset(o[0], o[1]); sq.Valid() {
				out = append(out, sq)
			}
		}
	case domain.King:
		out = append(out, Around(p.Square)...)
	case domain.Bishop, domain.Rook, domain.Queen:
		for _, dir := range directionsFor(p.Type) {
			for sq := p.Square.Offset(dir[0], dir[1]); sq.Valid(); sq = sq.Offset(dir[0], dir[1]) {
				out = append(out, sq)
				if ignore != nil && sq == *ignore {
					continue
				}
				if b.Occupant(sq) != nil {
					break
				}
			}
		}
	}
	return out
}

// Attackers maps every square threatened by the given color to the first
// piece found attacking it, scanning pieces in board order.
func Attackers(b *board.Board, c domain.Color) map[domain.Square]string {
	return attackersIgnoring(b, c, nil)
}

func attackersIgnoring(b *board.Board, c domain.Color, ignore *domain.Square) map[domain.Square]string {
	out := make(map[domain.Square]string)
	for _, p := range b.ActivePieces() {
		if p.Color != c {
			continue
		}
		for _, sq := range attacks(p, b, ignore) {
			if _, ok := out[sq]; !ok {
				out[sq] = p.ID
			}
		}
	}
	return out
}
