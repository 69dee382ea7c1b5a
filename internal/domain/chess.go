package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a referenced match, piece or king cache is absent.
var ErrNotFound = errors.New("not found")

// BoardSize is the number of rows and columns on the board.
const BoardSize = 8

type Color string

const (
	White Color = "WHITE"
	Black Color = "BLACK"
)

// Opponent returns the other color.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Forward is the row delta a pawn of this color advances by.
func (c Color) Forward() int {
	if c == White {
		return 1
	}
	return -1
}

func (c Color) Valid() bool { return c == White || c == Black }

type PieceType string

const (
	Pawn   PieceType = "PAWN"
	Knight PieceType = "KNIGHT"
	Bishop PieceType = "BISHOP"
	Rook   PieceType = "ROOK"
	Queen  PieceType = "QUEEN"
	King   PieceType = "KING"
)

// BoardSide is fixed at setup and tells which rook castles in which direction.
type BoardSide string

const (
	QueenSide BoardSide = "QUEEN"
	KingSide  BoardSide = "KING"
)

type MatchStatus string

const (
	StatusMatchmaking MatchStatus = "MATCHMAKING"
	StatusOngoing     MatchStatus = "ONGOING"
)

// Square is a structured board coordinate.
type Square struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

func Sq(row, column int) Square { return Square{Row: row, Column: column} }

// Valid reports whether the square lies on the board.
func (s Square) Valid() bool {
	return s.Row >= 0 && s.Row < BoardSize && s.Column >= 0 && s.Column < BoardSize
}

// Offset returns the square shifted by (dr, dc); the result may be off-board.
func (s Square) Offset(dr, dc int) Square {
	return Square{Row: s.Row + dr, Column: s.Column + dc}
}

func (s Square) String() string { return fmt.Sprintf("(%d,%d)", s.Row, s.Column) }

type Player struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type Match struct {
	ID          string      `json:"id"`
	Status      MatchStatus `json:"status"`
	WhitePlayer *Player     `json:"whitePlayer,omitempty"`
	BlackPlayer *Player     `json:"blackPlayer,omitempty"`
	Rounds      int         `json:"rounds"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   time.Time   `json:"startedAt,omitempty"`
}

// HasPlayer reports whether the player takes part in the match as either color.
func (m *Match) HasPlayer(playerID string) bool {
	return m.ColorOf(playerID) != ""
}

// ColorOf returns the color assigned to the player, or "" when not a member.
func (m *Match) ColorOf(playerID string) Color {
	if m == nil || playerID == "" {
		return ""
	}
	if m.WhitePlayer != nil && m.WhitePlayer.ID == playerID {
		return White
	}
	if m.BlackPlayer != nil && m.BlackPlayer.ID == playerID {
		return Black
	}
	return ""
}

// SetSecondPlayer seats the player on whichever color is still free and returns it.
func (m *Match) SetSecondPlayer(p *Player) (Color, error) {
	if m.HasPlayer(p.ID) {
		return "", fmt.Errorf("player %s already in match %s", p.ID, m.ID)
	}
	switch {
	case m.WhitePlayer == nil:
		m.WhitePlayer = p
		return White, nil
	case m.BlackPlayer == nil:
		m.BlackPlayer = p
		return Black, nil
	default:
		return "", fmt.Errorf("match %s already has two players", m.ID)
	}
}

// Usernames returns the white and black usernames, empty when unseated.
func (m *Match) Usernames() (white, black string) {
	if m.WhitePlayer != nil {
		white = m.WhitePlayer.Username
	}
	if m.BlackPlayer != nil {
		black = m.BlackPlayer.Username
	}
	return white, black
}

func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	if m.WhitePlayer != nil {
		p := *m.WhitePlayer
		c.WhitePlayer = &p
	}
	if m.BlackPlayer != nil {
		p := *m.BlackPlayer
		c.BlackPlayer = &p
	}
	return &c
}

type Piece struct {
	ID          string    `json:"id"`
	MatchID     string    `json:"matchId"`
	Color       Color     `json:"color"`
	Type        PieceType `json:"type"`
	Square      Square    `json:"square"`
	Captured    bool      `json:"captured"`
	InitialSide BoardSide `json:"initialSide"`
	// PinnedBy is advisory only and never blocks a move.
	PinnedBy string `json:"pinnedBy,omitempty"`
}

func (p *Piece) Clone() *Piece {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

type MoveHistoryEntry struct {
	ID         string    `json:"id"`
	MatchID    string    `json:"matchId"`
	PieceID    string    `json:"pieceId"`
	PieceColor Color     `json:"pieceColor"`
	PieceType  PieceType `json:"pieceType"`
	Round      int       `json:"round"`
	Seq        int       `json:"seq"`
	Previous   Square    `json:"previous"`
	Current    Square    `json:"current"`
	CreatedAt  time.Time `json:"createdAt"`
	// CheckedColor is the color placed in check by this move, if any.
	CheckedColor Color `json:"checkedColor,omitempty"`
}

// KingThreatCache tracks the squares around one king and which of them the opponent reaches.
type KingThreatCache struct {
	PieceID    string   `json:"pieceId"`
	MatchID    string   `json:"matchId"`
	Color      Color    `json:"color"`
	Around     []Square `json:"around"`
	Threatened []Square `json:"threatened"`
}

func (k *KingThreatCache) Clone() *KingThreatCache {
	if k == nil {
		return nil
	}
	c := *k
	c.Around = append([]Square(nil), k.Around...)
	c.Threatened = append([]Square(nil), k.Threatened...)
	return &c
}

// IsThreatened reports whether sq is in the opponent-reachable subset.
func (k *KingThreatCache) IsThreatened(sq Square) bool {
	for _, t := range k.Threatened {
		if t == sq {
			return true
		}
	}
	return false
}
