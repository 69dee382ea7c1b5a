// Package board holds the pieces of a single match indexed by square.
package board

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/park285/Cheese-arena/internal/domain"
)

// ErrNotFound is returned by PieceAt when the square is empty.
var ErrNotFound = fmt.Errorf("piece %w", domain.ErrNotFound)

// Board is a read/write container for one match's pieces.
// It is not safe for concurrent use; callers hold the match lock.
type Board struct {
	matchID string
	pieces  []*domain.Piece
	bySq    map[domain.Square]*domain.Piece
	byID    map[string]*domain.Piece
}

// New indexes the given pieces. Captured pieces are kept but never occupy a square.
func New(matchID string, pieces []*domain.Piece) (*Board, error) {
	b := &Board{
		matchID: matchID,
		pieces:  pieces,
		bySq:    make(map[domain.Square]*domain.Piece, len(pieces)),
		byID:    make(map[string]*domain.Piece, len(pieces)),
	}
	for _, p := range pieces {
		b.byID[p.ID] = p
		if p.Captured {
			continue
		}
		if !p.Square.Valid() {
			return nil, fmt.Errorf("piece %s off board at %s", p.ID, p.Square)
		}
		if other, ok := b.bySq[p.Square]; ok {
			return nil, fmt.Errorf("square %s occupied by both %s and %s", p.Square, other.ID, p.ID)
		}
		b.bySq[p.Square] = p
	}
	return b, nil
}

func (b *Board) MatchID() string { return b.matchID }

// Pieces returns every piece, captured ones included.
func (b *Board) Pieces() []*domain.Piece { return b.pieces }

// ActivePieces returns the non-captured pieces in a stable order.
func (b *Board) ActivePieces() []*domain.Piece {
	out := make([]*domain.Piece, 0, len(b.bySq))
	for _, p := range b.bySq {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Square.Row != out[j].Square.Row {
			return out[i].Square.Row < out[j].Square.Row
		}
		return out[i].Square.Column < out[j].Square.Column
	})
	return out
}

// PieceAt returns the active occupant of sq.
func (b *Board) PieceAt(sq domain.Square) (*domain.Piece, error) {
	if p, ok := b.bySq[sq]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w at %s", ErrNotFound, sq)
}

// Occupant is PieceAt without the error, for hot loops in the rule engine.
func (b *Board) Occupant(sq domain.Square) *domain.Piece { return b.bySq[sq] }

func (b *Board) Piece(id string) *domain.Piece { return b.byID[id] }

// King returns the active king of the given color.
func (b *Board) King(c domain.Color) *domain.Piece {
	for _, p := range b.bySq {
		if p.Type == domain.King && p.Color == c {
			return p
		}
	}
	return nil
}

// ApplyMove relocates the piece. It neither checks legality nor captures;
// the destination must already be free.
func (b *Board) ApplyMove(p *domain.Piece, to domain.Square) error {
	if !to.Valid() {
		return fmt.Errorf("destination %s off board", to)
	}
	if cur, ok := b.bySq[p.Square]; !ok || cur.ID != p.ID {
		return fmt.Errorf("piece %s is not on %s", p.ID, p.Square)
	}
	if occ, ok := b.bySq[to]; ok && occ.ID != p.ID {
		return fmt.Errorf("destination %s occupied by %s", to, occ.ID)
	}
	delete(b.bySq, p.Square)
	p.Square = to
	b.bySq[to] = p
	return nil
}

// Capture marks the occupant of sq captured and frees the square.
func (b *Board) Capture(sq domain.Square) (*domain.Piece, error) {
	p, err := b.PieceAt(sq)
	if err != nil {
		return nil, err
	}
	p.Captured = true
	p.PinnedBy = ""
	delete(b.bySq, sq)
	return p, nil
}

var backRank = []domain.PieceType{domain.Rook, domain.Knight, domain.Bishop}

// Setup builds the standard 32-piece starting position for a match.
func Setup(matchID string) []*domain.Piece {
	pieces := make([]*domain.Piece, 0, 32)
	add := func(c domain.Color, t domain.PieceType, row, col int, side domain.BoardSide) *domain.Piece {
		p := &domain.Piece{
			ID:          uuid.NewString(),
			MatchID:     matchID,
			Color:       c,
			Type:        t,
			Square:      domain.Sq(row, col),
			InitialSide: side,
		}
		pieces = append(pieces, p)
		return p
	}
	colorFor := func(white bool) domain.Color {
		if white {
			return domain.White
		}
		return domain.Black
	}
	homeRow := func(white bool) int {
		if white {
			return 0
		}
		return 7
	}

	for i := 0; i < 16; i++ {
		white := i < 8
		col := i % 8
		row := 6
		if white {
			row = 1
		}
		add(colorFor(white), domain.Pawn, row, col, sideOf(col))
	}

	for j, t := range backRank {
		for i := 0; i < 4; i++ {
			white := i < 2
			col := j
			if i%2 != 0 {
				col = 7 - j
			}
			add(colorFor(white), t, homeRow(white), col, sideOf(col))
		}
	}

	// even index queen on column 3, odd index king on column 4
	for i := 0; i < 4; i++ {
		white := i < 2
		if i%2 == 0 {
			add(colorFor(white), domain.Queen, homeRow(white), 3, domain.QueenSide)
		} else {
			add(colorFor(white), domain.King, homeRow(white), 4, domain.KingSide)
		}
	}
	return pieces
}

func sideOf(col int) domain.BoardSide {
	if col < 4 {
		return domain.QueenSide
	}
	return domain.KingSide
}
