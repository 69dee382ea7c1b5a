package rules

import (
	"github.com/park285/Cheese-arena/internal/board"
	"github.com/park285/Cheese-arena/internal/domain"
)

var aroundOffsets = [][2]int{{-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}}

// Around returns the on-board squares adjacent to sq.
func Around(sq domain.Square) []domain.Square {
	out := make([]domain.Square, 0, len(aroundOffsets))
	for _, o := range aroundOffsets {
		if n := sq.Offset(o[0], o[1]); n.Valid() {
			out = append(out, n)
		}
	}
	return out
}

type castleLane struct {
	side    domain.BoardSide
	rookCol int
	between []int
	kingTo  int
	rookTo  int
}

var castleLanes = []castleLane{
	{side: domain.KingSide, rookCol: 7, between: []int{5, 6}, kingTo: 6, rookTo: 5},
	{side: domain.QueenSide, rookCol: 0, between: []int{1, 2, 3}, kingTo: 2, rookTo: 3},
}

func homeRow(c domain.Color) int {
	if c == domain.White {
		return 0
	}
	return 7
}

func kingDestinations(k *domain.Piece, pos Position) DestinationSet {
	b := pos.Board
	cache := kingCacheFor(k, pos)
	var out DestinationSet
	for _, sq := range cache.Around {
		if cache.IsThreatened(sq) {
			continue
		}
		if b.Occupant(sq) != nil {
			continue
		}
		out = append(out, Destination{To: sq})
	}
	return append(out, castlingDestinations(k, pos)...)
}

// kingCacheFor returns the stored cache when it still describes the king's
// current square, and a fresh computation otherwise.
func kingCacheFor(k *domain.Piece, pos Position) *domain.KingThreatCache {
	if c, ok := pos.Kings[k.Color]; ok && c != nil && c.PieceID == k.ID && sameSquares(c.Around, Around(k.Square)) {
		return c
	}
	return ComputeKingCache(k, pos.Board)
}

// castlingDestinations only checks that the lane is empty and that neither the
// king nor the lane's rook has moved. Check and passing through check are not
// considered.
func castlingDestinations(k *domain.Piece, pos Position) DestinationSet {
	row := homeRow(k.Color)
	if k.Square != domain.Sq(row, 4) {
		return nil
	}
	moved := movedSides(k, pos)
	if moved.king {
		return nil
	}
	b := pos.Board
	var out DestinationSet
	for _, lane := range castleLanes {
		if moved.rooks[lane.side] {
			continue
		}
		rook := b.Occupant(domain.Sq(row, lane.rookCol))
		if rook == nil || rook.Type != domain.Rook || rook.Color != k.Color || rook.InitialSide != lane.side {
			continue
		}
		clear := true
		for _, col := range lane.between {
			if b.Occupant(domain.Sq(row, col)) != nil {
				clear = false
				break
			}
		}
		if !clear {
			continue
		}
		out = append(out, Destination{
			To: domain.Sq(row, lane.kingTo),
			Castle: &Castle{
				RookID: rook.ID,
				From:   rook.Square,
				To:     domain.Sq(row, lane.rookTo),
			},
		})
	}
	return out
}

type movedState struct {
	king  bool
	rooks map[domain.BoardSide]bool
}

// movedSides scans the full history for the king and for rooks of its color.
func movedSides(k *domain.Piece, pos Position) movedState {
	st := movedState{rooks: make(map[domain.BoardSide]bool, 2)}
	for _, h := range pos.History {
		if h.PieceID == k.ID {
			st.king = true
			return st
		}
		if h.PieceType != domain.Rook || h.PieceColor != k.Color {
			continue
		}
		if rook := pos.Board.Piece(h.PieceID); rook != nil {
			st.rooks[rook.InitialSide] = true
		}
	}
	return st
}

// ComputeKingCache derives the adjacent squares of a king and the subset the
// opponent reaches. The king's own square is treated as empty so that sliders
// keep threatening the squares behind it.
func ComputeKingCache(k *domain.Piece, b *board.Board) *domain.KingThreatCache {
	around := Around(k.Square)
	self := k.Square
	threats := attackersIgnoring(b, k.Color.Opponent(), &self)
	threatened := make([]domain.Square, 0, len(around))
	for _, sq := range around {
		if _, ok := threats[sq]; ok {
			threatened = append(threatened, sq)
		}
	}
	return &domain.KingThreatCache{
		PieceID:    k.ID,
		MatchID:    k.MatchID,
		Color:      k.Color,
		Around:     around,
		Threatened: threatened,
	}
}

func sameSquares(a, b []domain.Square) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
