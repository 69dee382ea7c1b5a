package chessdto

import "time"

type Piece struct {
	ID          string `json:"id"`
	Color       string `json:"color"`
	Type        string `json:"type"`
	Row         int    `json:"row"`
	Column      int    `json:"column"`
	InitialSide string `json:"initialSide"`
	PinnedBy    string `json:"pinnedBy,omitempty"`
}

type HistoryEntry struct {
	ID           string    `json:"id"`
	MatchID      string    `json:"matchId"`
	PieceID      string    `json:"pieceId"`
	PieceColor   string    `json:"pieceColor"`
	PieceType    string    `json:"pieceType"`
	Round        int       `json:"round"`
	Previous     Square    `json:"previous"`
	Current      Square    `json:"current"`
	CheckedColor string    `json:"checkedColor,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type RookMove struct {
	PieceID string `json:"pieceId"`
	From    Square `json:"from"`
	To      Square `json:"to"`
}
