package rules

import (
	"github.com/park285/Cheese-arena/internal/board"
	"github.com/park285/Cheese-arena/internal/domain"
)

var (
	knightOffsets = [][2]int{{2, 1}, {2, -1}, {-2, 1}, {-2, -1}, {1, 2}, {1, -2}, {-1, 2}, {-1, -2}}
	diagonals     = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	orthogonals   = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	queenDirs     = append(append([][2]int{}, orthogonals...), diagonals...)
)

func directionsFor(t domain.PieceType) [][2]int {
	switch t {
	case domain.Bishop:
		return diagonals
	case domain.Rook:
		return orthogonals
	default:
		return queenDirs
	}
}

func pawnStartRow(c domain.Color) int {
	if c == domain.White {
		return 1
	}
	return 6
}

func pawnDestinations(p *domain.Piece, pos Position) DestinationSet {
	b := pos.Board
	dir := p.Color.Forward()
	var out DestinationSet

	one := p.Square.Offset(dir, 0)
	if one.Valid() && b.Occupant(one) == nil {
		out = append(out, Destination{To: one})
		two := p.Square.Offset(2*dir, 0)
		if p.Square.Row == pawnStartRow(p.Color) && two.Valid() && b.Occupant(two) == nil {
			out = append(out, Destination{To: two})
		}
	}

	for _, dc := range []int{-1, 1} {
		diag := p.Square.Offset(dir, dc)
		if !diag.Valid() {
			continue
		}
		if occ := b.Occupant(diag); occ != nil {
			if occ.Color != p.Color {
				out = append(out, Destination{To: diag, Captures: true})
			}
			continue
		}
		if victim, ok := enPassantVictim(p, diag, pos); ok {
			sq := victim.Square
			out = append(out, Destination{To: diag, Captures: true, EnPassantCapture: &sq})
		}
	}
	return out
}

// enPassantVictim reports the opposing pawn that may be taken by moving to diag:
// it must have just advanced two ranks and landed beside the mover on diag's file.
func enPassantVictim(p *domain.Piece, diag domain.Square, pos Position) (*domain.Piece, bool) {
	last := pos.LastMove()
	if last == nil || last.PieceType != domain.Pawn || last.PieceColor == p.Color {
		return nil, false
	}
	if abs(last.Current.Row-last.Previous.Row) != 2 {
		return nil, false
	}
	if last.Current.Row != p.Square.Row || last.Current.Column != diag.Column {
		return nil, false
	}
	victim := pos.Board.Occupant(last.Current)
	if victim == nil || victim.ID != last.PieceID {
		return nil, false
	}
	return victim, true
}

func knightDestinations(p *domain.Piece, b *board.Board) DestinationSet {
	var out DestinationSet
	for _, o := range knightOffsets {
		sq := p.Square.Offset(o[0], o[1])
		if !sq.Valid() {
			continue
		}
		occ := b.Occupant(sq)
		if occ != nil && occ.Color == p.Color {
			continue
		}
		out = append(out, Destination{To: sq, Captures: occ != nil})
	}
	return out
}

func slidingDestinations(p *domain.Piece, b *board.Board) DestinationSet {
	var out DestinationSet
	for _, dir := range directionsFor(p.Type) {
		for sq := p.Square.Offset(dir[0], dir[1]); sq.Valid(); sq = sq.Offset(dir[0], dir[1]) {
			occ := b.Occupant(sq)
			if occ == nil {
				out = append(out, Destination{To: sq})
				continue
			}
			if occ.Color != p.Color {
				out = append(out, Destination{To: sq, Captures: true})
			}
			break
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
