package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/Cheese-arena/internal/domain"
	"github.com/redis/go-redis/v9"
)

// redisStore keeps every record as JSON. Multi-key writes go through
// MULTI/EXEC so a move is either fully visible or not at all, and move
// commits are guarded by WATCH so several processes can share one Redis.
type redisStore struct {
	rdb *redis.Client
}

// NewRedis connects to REDIS_URL-style addresses (redis:// or rediss://).
func NewRedis(redisURL string) (Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{rdb: rdb}, nil
}

func playerKey(username string) string    { return "chess:player:" + strings.TrimSpace(username) }
func matchKey(id string) string           { return "chess:match:" + strings.TrimSpace(id) }
func piecesKey(matchID string) string     { return matchKey(matchID) + ":pieces" }
func historyKey(matchID string) string    { return matchKey(matchID) + ":history" }
func kingKey(pieceID string) string       { return "chess:king:" + strings.TrimSpace(pieceID) }
func idxPlayerKey(playerID string) string { return "chess:index:player:" + strings.TrimSpace(playerID) }
func lobbyKey() string                    { return "chess:matchmaking" }

func (s *redisStore) UpsertPlayer(ctx context.Context, username string) (*domain.Player, error) {
	name, err := cleanUsername(username)
	if err != nil {
		return nil, err
	}
	if p, err := s.loadPlayer(ctx, name); err == nil {
		return p, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	p := &domain.Player{ID: uuid.NewString(), Username: name, CreatedAt: time.Now()}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, playerKey(name), raw, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("store player: %w", err)
	}
	if !ok {
		// lost the race to a concurrent upsert of the same name
		return s.loadPlayer(ctx, name)
	}
	return p, nil
}

func (s *redisStore) loadPlayer(ctx context.Context, name string) (*domain.Player, error) {
	var p domain.Player
	if err := s.getJSON(ctx, playerKey(name), &p); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound("player", name)
		}
		return nil, err
	}
	return &p, nil
}

func (s *redisStore) CreateMatch(ctx context.Context, m *domain.Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, matchKey(m.ID), raw, 0)
		if m.Status == domain.StatusMatchmaking {
			pipe.ZAdd(ctx, lobbyKey(), redis.Z{Score: float64(m.CreatedAt.UnixNano()), Member: m.ID})
		}
		indexPlayers(ctx, pipe, m)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create match %s: %w", m.ID, err)
	}
	return nil
}

func indexPlayers(ctx context.Context, pipe redis.Pipeliner, m *domain.Match) {
	for _, p := range []*domain.Player{m.WhitePlayer, m.BlackPlayer} {
		if p != nil {
			pipe.SAdd(ctx, idxPlayerKey(p.ID), m.ID)
		}
	}
}

func (s *redisStore) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	var m domain.Match
	if err := s.getJSON(ctx, matchKey(id), &m); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound("match", id)
		}
		return nil, err
	}
	return &m, nil
}

func (s *redisStore) FindUnfinishedMatch(ctx context.Context, playerID string) (*domain.Match, error) {
	ids, err := s.rdb.SMembers(ctx, idxPlayerKey(playerID)).Result()
	if err != nil {
		return nil, err
	}
	var list []*domain.Match
	for _, id := range ids {
		m, gerr := s.GetMatch(ctx, id)
		if gerr != nil {
			continue
		}
		if m.Status == domain.StatusMatchmaking || m.Status == domain.StatusOngoing {
			list = append(list, m)
		}
	}
	if len(list) == 0 {
		return nil, notFound("unfinished match for player", playerID)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list[0], nil
}

func (s *redisStore) FindMatchmakingMatch(ctx context.Context, excludePlayerID string) (*domain.Match, error) {
	ids, err := s.rdb.ZRange(ctx, lobbyKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		m, gerr := s.GetMatch(ctx, id)
		if gerr != nil || m.Status != domain.StatusMatchmaking {
			_ = s.rdb.ZRem(ctx, lobbyKey(), id).Err()
			continue
		}
		if m.HasPlayer(excludePlayerID) {
			continue
		}
		return m, nil
	}
	return nil, notFound("matchmaking match excluding", excludePlayerID)
}

func (s *redisStore) StartMatch(ctx context.Context, m *domain.Match, pieces []*domain.Piece, kings []*domain.KingThreatCache) error {
	if err := s.requireMatch(ctx, m.ID); err != nil {
		return err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	fields, err := pieceFields(pieces)
	if err != nil {
		return err
	}
	kingRaw, err := marshalKings(kings)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, matchKey(m.ID), raw, 0)
		pipe.ZRem(ctx, lobbyKey(), m.ID)
		indexPlayers(ctx, pipe, m)
		pipe.Del(ctx, piecesKey(m.ID))
		if len(fields) > 0 {
			pipe.HSet(ctx, piecesKey(m.ID), fields...)
		}
		for id, v := range kingRaw {
			pipe.Set(ctx, kingKey(id), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("start match %s: %w", m.ID, err)
	}
	return nil
}

func (s *redisStore) Pieces(ctx context.Context, matchID string) ([]*domain.Piece, error) {
	all, err := s.rdb.HGetAll(ctx, piecesKey(matchID)).Result()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, notFound("pieces for match", matchID)
	}
	out := make([]*domain.Piece, 0, len(all))
	for id, raw := range all {
		var p domain.Piece
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode piece %s: %w", id, err)
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *redisStore) History(ctx context.Context, matchID string) ([]*domain.MoveHistoryEntry, error) {
	raws, err := s.rdb.LRange(ctx, historyKey(matchID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.MoveHistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e domain.MoveHistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *redisStore) LastMove(ctx context.Context, matchID string) (*domain.MoveHistoryEntry, error) {
	raw, err := s.rdb.LIndex(ctx, historyKey(matchID), 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e domain.MoveHistoryEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode history entry: %w", err)
	}
	return &e, nil
}

func (s *redisStore) KingCache(ctx context.Context, pieceID string) (*domain.KingThreatCache, error) {
	var k domain.KingThreatCache
	if err := s.getJSON(ctx, kingKey(pieceID), &k); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound("king cache", pieceID)
		}
		return nil, err
	}
	return &k, nil
}

// CommitMove watches the match and history keys so a commit from another
// process between the head read and EXEC aborts this one.
func (s *redisStore) CommitMove(ctx context.Context, c MoveCommit) error {
	if err := c.validate(); err != nil {
		return err
	}
	id := c.Match.ID
	matchRaw, err := json.Marshal(c.Match)
	if err != nil {
		return err
	}
	entryRaw, err := json.Marshal(c.Entry)
	if err != nil {
		return err
	}
	fields, err := pieceFields(c.Pieces)
	if err != nil {
		return err
	}
	kingRaw, err := marshalKings(c.Kings)
	if err != nil {
		return err
	}
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, matchKey(id)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound("match", id)
		}
		head, err := headSeq(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := c.checkHead(head); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, matchKey(id), matchRaw, 0)
			if len(fields) > 0 {
				pipe.HSet(ctx, piecesKey(id), fields...)
			}
			pipe.LPush(ctx, historyKey(id), entryRaw)
			for pid, v := range kingRaw {
				pipe.Set(ctx, kingKey(pid), v, 0)
			}
			return nil
		})
		return err
	}, matchKey(id), historyKey(id))
	if errors.Is(err, redis.TxFailedErr) {
		err = fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return fmt.Errorf("commit move on match %s: %w", id, err)
	}
	return nil
}

func headSeq(ctx context.Context, tx *redis.Tx, matchID string) (int, error) {
	raw, err := tx.LIndex(ctx, historyKey(matchID), 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var e domain.MoveHistoryEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return 0, fmt.Errorf("decode history head: %w", err)
	}
	return e.Seq, nil
}

func (s *redisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *redisStore) requireMatch(ctx context.Context, id string) error {
	n, err := s.rdb.Exists(ctx, matchKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("match", id)
	}
	return nil
}

func (s *redisStore) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func pieceFields(pieces []*domain.Piece) ([]any, error) {
	fields := make([]any, 0, 2*len(pieces))
	for _, p := range pieces {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		fields = append(fields, p.ID, string(raw))
	}
	return fields, nil
}

func marshalKings(kings []*domain.KingThreatCache) (map[string][]byte, error) {
	out := make(map[string][]byte, len(kings))
	for _, k := range kings {
		raw, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		out[k.PieceID] = raw
	}
	return out, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
