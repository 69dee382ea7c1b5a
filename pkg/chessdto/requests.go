package chessdto

// MessageType discriminates every frame in both directions.
type MessageType string

const (
	TypeMatchmaking                MessageType = "MATCHMAKING"
	TypeMove                       MessageType = "MOVE"
	TypeGetPieceAvailablePositions MessageType = "GET_PIECE_AVAILABLE_POSITIONS"

	TypePing               MessageType = "PING"
	TypeMatchStarted       MessageType = "MATCH_STARTED"
	TypeReconnected        MessageType = "RECONNECTED"
	TypeAvailablePositions MessageType = "AVAILABLE_POSITIONS"
	TypeInvalidMove        MessageType = "INVALID_MOVE"
	TypeInvalid            MessageType = "INVALID"
)

// Envelope is decoded first to route a frame by its type.
type Envelope struct {
	Type MessageType `json:"type"`
}

type Square struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

type MatchmakingRequest struct {
	Type     MessageType `json:"type"`
	Username string      `json:"username"`
}

// MoveRequest accepts both nested squares and the flat
// fromRow/fromColumn/toRow/toColumn form. Nested wins when both are present.
type MoveRequest struct {
	Type MessageType `json:"type"`
	From *Square     `json:"from,omitempty"`
	To   *Square     `json:"to,omitempty"`

	FromRow    *int `json:"fromRow,omitempty"`
	FromColumn *int `json:"fromColumn,omitempty"`
	ToRow      *int `json:"toRow,omitempty"`
	ToColumn   *int `json:"toColumn,omitempty"`
}

// Squares resolves origin and destination; ok is false when either is missing.
func (r MoveRequest) Squares() (from, to Square, ok bool) {
	fromOK, toOK := false, false
	if r.From != nil {
		from, fromOK = *r.From, true
	} else if r.FromRow != nil && r.FromColumn != nil {
		from, fromOK = Square{Row: *r.FromRow, Column: *r.FromColumn}, true
	}
	if r.To != nil {
		to, toOK = *r.To, true
	} else if r.ToRow != nil && r.ToColumn != nil {
		to, toOK = Square{Row: *r.ToRow, Column: *r.ToColumn}, true
	}
	return from, to, fromOK && toOK
}

type PositionsRequest struct {
	Type   MessageType `json:"type"`
	Row    *int        `json:"row,omitempty"`
	Column *int        `json:"column,omitempty"`
}

func (r PositionsRequest) Square() (Square, bool) {
	if r.Row == nil || r.Column == nil {
		return Square{}, false
	}
	return Square{Row: *r.Row, Column: *r.Column}, true
}
