package chesspresenter

import (
	"github.com/park285/Cheese-arena/internal/domain"
	"github.com/park285/Cheese-arena/internal/rules"
	"github.com/park285/Cheese-arena/pkg/chessdto"
)

func ToDTOSquare(s domain.Square) chessdto.Square {
	return chessdto.Square{Row: s.Row, Column: s.Column}
}

func FromDTOSquare(s chessdto.Square) domain.Square {
	return domain.Sq(s.Row, s.Column)
}

func ToDTOSquares(list []domain.Square) []chessdto.Square {
	out := make([]chessdto.Square, 0, len(list))
	for _, s := range list {
		out = append(out, ToDTOSquare(s))
	}
	return out
}

func ToDTOPiece(p *domain.Piece) chessdto.Piece {
	return chessdto.Piece{
		ID:          p.ID,
		Color:       string(p.Color),
		Type:        string(p.Type),
		Row:         p.Square.Row,
		Column:      p.Square.Column,
		InitialSide: string(p.InitialSide),
		PinnedBy:    p.PinnedBy,
	}
}

// ToDTOPieces converts the active pieces only; captured ones are not part of a resync.
func ToDTOPieces(pieces []*domain.Piece) []chessdto.Piece {
	out := make([]chessdto.Piece, 0, len(pieces))
	for _, p := range pieces {
		if p == nil || p.Captured {
			continue
		}
		out = append(out, ToDTOPiece(p))
	}
	return out
}

func ToDTOHistory(e *domain.MoveHistoryEntry) *chessdto.HistoryEntry {
	if e == nil {
		return nil
	}
	return &chessdto.HistoryEntry{
		ID:           e.ID,
		MatchID:      e.MatchID,
		PieceID:      e.PieceID,
		PieceColor:   string(e.PieceColor),
		PieceType:    string(e.PieceType),
		Round:        e.Round,
		Previous:     ToDTOSquare(e.Previous),
		Current:      ToDTOSquare(e.Current),
		CheckedColor: string(e.CheckedColor),
		CreatedAt:    e.CreatedAt,
	}
}

// ToDTOMove builds the MOVE broadcast from the committed entry and the
// destination that was applied.
func ToDTOMove(e *domain.MoveHistoryEntry, d rules.Destination, captured *domain.Piece) chessdto.MoveApplied {
	msg := chessdto.MoveApplied{Type: chessdto.TypeMove, History: *ToDTOHistory(e)}
	if d.Castle != nil {
		msg.CastleRookMove = &chessdto.RookMove{
			PieceID: d.Castle.RookID,
			From:    ToDTOSquare(d.Castle.From),
			To:      ToDTOSquare(d.Castle.To),
		}
	}
	if d.EnPassantCapture != nil {
		sq := ToDTOSquare(*d.EnPassantCapture)
		msg.CapturedEnPassant = &sq
	}
	if captured != nil {
		msg.CapturedPieceID = captured.ID
	}
	return msg
}
