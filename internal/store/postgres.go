package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/park285/Cheese-arena/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Postgres stores matches in relational tables; every commit is one sql.Tx.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens DATABASE_URL with lib/pq and verifies the connection.
func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply chess schema: %w", err)
	}
	return nil
}

func (s *Postgres) UpsertPlayer(ctx context.Context, username string) (*domain.Player, error) {
	name, err := cleanUsername(username)
	if err != nil {
		return nil, err
	}
	const q = `
		INSERT INTO chess_players (id, username, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id, username, created_at`
	var p domain.Player
	if err := s.db.QueryRowContext(ctx, q, uuid.NewString(), name, time.Now()).Scan(&p.ID, &p.Username, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert player: %w", err)
	}
	return &p, nil
}

func (s *Postgres) CreateMatch(ctx context.Context, m *domain.Match) error {
	const q = `
		INSERT INTO chess_matches (id, status, white_player_id, black_player_id, rounds, created_at, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, q,
		m.ID, string(m.Status),
		playerIDArg(m.WhitePlayer), playerIDArg(m.BlackPlayer),
		m.Rounds, m.CreatedAt, timeArg(m.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

const selectMatch = `
	SELECT m.id, m.status, m.rounds, m.created_at, m.started_at,
	       w.id, w.username, w.created_at,
	       b.id, b.username, b.created_at
	FROM chess_matches m
	LEFT JOIN chess_players w ON w.id = m.white_player_id
	LEFT JOIN chess_players b ON b.id = m.black_player_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*domain.Match, error) {
	var (
		m          domain.Match
		status     string
		startedAt  sql.NullTime
		wID, wName sql.NullString
		wAt        sql.NullTime
		bID, bName sql.NullString
		bAt        sql.NullTime
	)
	if err := row.Scan(&m.ID, &status, &m.Rounds, &m.CreatedAt, &startedAt, &wID, &wName, &wAt, &bID, &bName, &bAt); err != nil {
		return nil, err
	}
	m.Status = domain.MatchStatus(status)
	if startedAt.Valid {
		m.StartedAt = startedAt.Time
	}
	if wID.Valid {
		m.WhitePlayer = &domain.Player{ID: wID.String, Username: wName.String, CreatedAt: wAt.Time}
	}
	if bID.Valid {
		m.BlackPlayer = &domain.Player{ID: bID.String, Username: bName.String, CreatedAt: bAt.Time}
	}
	return &m, nil
}

func (s *Postgres) queryMatch(ctx context.Context, what, id, where string, args ...any) (*domain.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, selectMatch+"\n"+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(what, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", what, err)
	}
	return m, nil
}

func (s *Postgres) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	return s.queryMatch(ctx, "match", id, `WHERE m.id = $1`, strings.TrimSpace(id))
}

func (s *Postgres) FindUnfinishedMatch(ctx context.Context, playerID string) (*domain.Match, error) {
	return s.queryMatch(ctx, "unfinished match for player", playerID, `
	WHERE (m.white_player_id = $1 OR m.black_player_id = $1)
	  AND m.status IN ('MATCHMAKING', 'ONGOING')
	ORDER BY m.created_at DESC
	LIMIT 1`, playerID)
}

func (s *Postgres) FindMatchmakingMatch(ctx context.Context, excludePlayerID string) (*domain.Match, error) {
	return s.queryMatch(ctx, "matchmaking match excluding", excludePlayerID, `
	WHERE m.status = 'MATCHMAKING'
	  AND COALESCE(m.white_player_id, '') <> $1
	  AND COALESCE(m.black_player_id, '') <> $1
	ORDER BY m.created_at ASC, m.id ASC
	LIMIT 1`, excludePlayerID)
}

func (s *Postgres) StartMatch(ctx context.Context, m *domain.Match, pieces []*domain.Piece, kings []*domain.KingThreatCache) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateMatch(ctx, tx, m); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chess_pieces WHERE match_id = $1`, m.ID); err != nil {
			return fmt.Errorf("clear pieces: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chess_pieces (id, match_id, color, piece_type, row_idx, col_idx, captured, initial_side, pinned_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
		if err != nil {
			return fmt.Errorf("prepare piece insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range pieces {
			if _, err := stmt.ExecContext(ctx, p.ID, p.MatchID, string(p.Color), string(p.Type),
				p.Square.Row, p.Square.Column, p.Captured, string(p.InitialSide), p.PinnedBy); err != nil {
				return fmt.Errorf("insert piece %s: %w", p.ID, err)
			}
		}
		return upsertKings(ctx, tx, kings)
	})
}

func (s *Postgres) Pieces(ctx context.Context, matchID string) ([]*domain.Piece, error) {
	const q = `
		SELECT id, match_id, color, piece_type, row_idx, col_idx, captured, initial_side, pinned_by
		FROM chess_pieces
		WHERE match_id = $1
		ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, matchID)
	if err != nil {
		return nil, fmt.Errorf("select pieces: %w", err)
	}
	defer rows.Close()
	var out []*domain.Piece
	for rows.Next() {
		var (
			p                domain.Piece
			color, typ, side string
		)
		if err := rows.Scan(&p.ID, &p.MatchID, &color, &typ, &p.Square.Row, &p.Square.Column, &p.Captured, &side, &p.PinnedBy); err != nil {
			return nil, fmt.Errorf("scan piece: %w", err)
		}
		p.Color = domain.Color(color)
		p.Type = domain.PieceType(typ)
		p.InitialSide = domain.BoardSide(side)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("pieces for match", matchID)
	}
	return out, nil
}

const selectHistory = `
	SELECT id, match_id, piece_id, piece_color, piece_type, round, seq,
	       prev_row, prev_col, cur_row, cur_col, checked_color, created_at
	FROM chess_move_history
	WHERE match_id = $1
	ORDER BY seq DESC, created_at DESC`

func scanEntry(row rowScanner) (*domain.MoveHistoryEntry, error) {
	var (
		e                   domain.MoveHistoryEntry
		color, typ, checked string
	)
	if err := row.Scan(&e.ID, &e.MatchID, &e.PieceID, &color, &typ, &e.Round, &e.Seq,
		&e.Previous.Row, &e.Previous.Column, &e.Current.Row, &e.Current.Column, &checked, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.PieceColor = domain.Color(color)
	e.PieceType = domain.PieceType(typ)
	e.CheckedColor = domain.Color(checked)
	return &e, nil
}

func (s *Postgres) History(ctx context.Context, matchID string) ([]*domain.MoveHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectHistory, matchID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()
	out := make([]*domain.MoveHistoryEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) LastMove(ctx context.Context, matchID string) (*domain.MoveHistoryEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectHistory+"\n\tLIMIT 1", matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select last move: %w", err)
	}
	return e, nil
}

func (s *Postgres) KingCache(ctx context.Context, pieceID string) (*domain.KingThreatCache, error) {
	const q = `SELECT piece_id, match_id, color, around, threatened FROM chess_king_caches WHERE piece_id = $1`
	var (
		k                  domain.KingThreatCache
		color              string
		around, threatened []byte
	)
	err := s.db.QueryRowContext(ctx, q, pieceID).Scan(&k.PieceID, &k.MatchID, &color, &around, &threatened)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("king cache", pieceID)
	}
	if err != nil {
		return nil, fmt.Errorf("select king cache: %w", err)
	}
	k.Color = domain.Color(color)
	if err := json.Unmarshal(around, &k.Around); err != nil {
		return nil, fmt.Errorf("decode around: %w", err)
	}
	if err := json.Unmarshal(threatened, &k.Threatened); err != nil {
		return nil, fmt.Errorf("decode threatened: %w", err)
	}
	return &k, nil
}

func (s *Postgres) CommitMove(ctx context.Context, c MoveCommit) error {
	if err := c.validate(); err != nil {
		return err
	}
	// captured pieces leave their square before anything lands on it
	pieces := append([]*domain.Piece(nil), c.Pieces...)
	sort.SliceStable(pieces, func(i, j int) bool { return pieces[i].Captured && !pieces[j].Captured })

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// the match row update holds its lock until commit, so the head read below is current
		if err := updateMatch(ctx, tx, c.Match); err != nil {
			return err
		}
		var head int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM chess_move_history WHERE match_id = $1`, c.Match.ID,
		).Scan(&head); err != nil {
			return fmt.Errorf("read history head: %w", err)
		}
		if err := c.checkHead(head); err != nil {
			return err
		}
		for _, p := range pieces {
			res, err := tx.ExecContext(ctx, `
				UPDATE chess_pieces SET row_idx = $2, col_idx = $3, captured = $4, pinned_by = $5
				WHERE id = $1`, p.ID, p.Square.Row, p.Square.Column, p.Captured, p.PinnedBy)
			if err != nil {
				return fmt.Errorf("update piece %s: %w", p.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return notFound("piece", p.ID)
			}
		}
		e := c.Entry
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chess_move_history (
				id, match_id, piece_id, piece_color, piece_type, round, seq,
				prev_row, prev_col, cur_row, cur_col, checked_color, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			e.ID, e.MatchID, e.PieceID, string(e.PieceColor), string(e.PieceType), e.Round, e.Seq,
			e.Previous.Row, e.Previous.Column, e.Current.Row, e.Current.Column, string(e.CheckedColor), e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return upsertKings(ctx, tx, c.Kings)
	})
}

func (s *Postgres) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func updateMatch(ctx context.Context, tx *sql.Tx, m *domain.Match) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE chess_matches
		SET status = $2, white_player_id = $3, black_player_id = $4, rounds = $5, started_at = $6
		WHERE id = $1`,
		m.ID, string(m.Status), playerIDArg(m.WhitePlayer), playerIDArg(m.BlackPlayer), m.Rounds, timeArg(m.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("match", m.ID)
	}
	return nil
}

func upsertKings(ctx context.Context, tx *sql.Tx, kings []*domain.KingThreatCache) error {
	for _, k := range kings {
		around, err := json.Marshal(nonNil(k.Around))
		if err != nil {
			return err
		}
		threatened, err := json.Marshal(nonNil(k.Threatened))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chess_king_caches (piece_id, match_id, color, around, threatened)
			VALUES ($1, $2, $3, $4::jsonb, $5::jsonb)
			ON CONFLICT (piece_id) DO UPDATE SET
				around = EXCLUDED.around,
				threatened = EXCLUDED.threatened`,
			k.PieceID, k.MatchID, string(k.Color), string(around), string(threatened),
		)
		if err != nil {
			return fmt.Errorf("upsert king cache %s: %w", k.PieceID, err)
		}
	}
	return nil
}

func nonNil(sq []domain.Square) []domain.Square {
	if sq == nil {
		return []domain.Square{}
	}
	return sq
}

func playerIDArg(p *domain.Player) any {
	if p == nil {
		return nil
	}
	return p.ID
}

func timeArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
