package board

import (
	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-arena/internal/domain"
)

var fenTypes = map[domain.PieceType]nchess.PieceType{
	domain.Pawn:   nchess.Pawn,
	domain.Knight: nchess.Knight,
	domain.Bishop: nchess.Bishop,
	domain.Rook:   nchess.Rook,
	domain.Queen:  nchess.Queen,
	domain.King:   nchess.King,
}

// FEN renders the piece-placement field of a FEN string.
// Row 0 maps to rank 1 and column 0 to file a.
func (b *Board) FEN() string {
	m := make(map[nchess.Square]nchess.Piece, len(b.bySq))
	for sq, p := range b.bySq {
		c := nchess.White
		if p.Color == domain.Black {
			c = nchess.Black
		}
		m[nchess.NewSquare(nchess.File(sq.Column), nchess.Rank(sq.Row))] = nchess.NewPiece(fenTypes[p.Type], c)
	}
	return nchess.NewBoard(m).String()
}
