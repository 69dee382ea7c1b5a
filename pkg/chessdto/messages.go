package chessdto

type Ping struct {
	Type MessageType `json:"type"`
}

func NewPing() Ping { return Ping{Type: TypePing} }

type MatchStarted struct {
	Type          MessageType `json:"type"`
	MatchID       string      `json:"matchId"`
	Color         string      `json:"color"`
	WhiteUsername string      `json:"whiteUsername"`
	BlackUsername string      `json:"blackUsername"`
}

// Reconnected resynchronises a client that rejoined an ongoing match.
type Reconnected struct {
	Type          MessageType   `json:"type"`
	MatchID       string        `json:"matchId"`
	Color         string        `json:"color"`
	Pieces        []Piece       `json:"pieces"`
	WhiteUsername string        `json:"whiteUsername"`
	BlackUsername string        `json:"blackUsername"`
	Round         int           `json:"round"`
	FEN           string        `json:"fen"`
	LastMove      *HistoryEntry `json:"lastMove,omitempty"`
}

// MoveApplied is broadcast to both players after a move is committed.
type MoveApplied struct {
	Type              MessageType  `json:"type"`
	History           HistoryEntry `json:"history"`
	CastleRookMove    *RookMove    `json:"castleRookMove,omitempty"`
	CapturedEnPassant *Square      `json:"capturedEnPassant,omitempty"`
	CapturedPieceID   string       `json:"capturedPieceId,omitempty"`
}

type AvailablePositions struct {
	Type      MessageType `json:"type"`
	Square    Square      `json:"square"`
	Positions []Square    `json:"positions"`
}

// Rejection is the body of both INVALID_MOVE and INVALID.
type Rejection struct {
	Type    MessageType `json:"type"`
	Reason  string      `json:"reason"`
	Message string      `json:"message"`
}

func NewInvalidMove(e DomainError) Rejection {
	return Rejection{Type: TypeInvalidMove, Reason: e.Code, Message: e.Error()}
}

func NewInvalid(e DomainError) Rejection {
	return Rejection{Type: TypeInvalid, Reason: e.Code, Message: e.Error()}
}
