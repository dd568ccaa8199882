// Package redis provides Redis-backed storage for the game session and
// score board.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bissquit/pagewatch/internal/domain"
	"github.com/bissquit/pagewatch/internal/game"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKey     = "game:session"
	leaderboardKey = "game:leaderboard"
	scoreKeyPrefix = "game:score:"
	claimKeyPrefix = "game:scored:"
)

// Store implements game.SessionStore backed by Redis. The session key's
// TTL is the session's lifetime: an unfinished session expires on its
// own with nothing to sweep.
type Store struct {
	client *redis.Client
}

// NewStore creates a new game store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// StartSession creates the session if none exists. SET NX is the
// serialization point: exactly one concurrent starter wins.
func (s *Store) StartSession(ctx context.Context, session *domain.GameSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, sessionKey, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if !ok {
		return game.ErrSessionActive
	}
	return nil
}

// GetSession returns the active session.
func (s *Store) GetSession(ctx context.Context) (*domain.GameSession, error) {
	payload, err := s.client.Get(ctx, sessionKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, game.ErrNoActiveSession
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	session := &domain.GameSession{}
	if err := json.Unmarshal(payload, session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

// EndSession removes the session record.
func (s *Store) EndSession(ctx context.Context) error {
	if err := s.client.Del(ctx, sessionKey).Err(); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// ClaimScore marks the incident as scored exactly once.
func (s *Store) ClaimScore(ctx context.Context, incidentID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, claimKeyPrefix+incidentID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim score: %w", err)
	}
	return ok, nil
}

// AddPoints credits points and one ack to the responder.
func (s *Store) AddPoints(ctx context.Context, responder string, points int) (*domain.Score, error) {
	scoreKey := scoreKeyPrefix + responder

	pipe := s.client.TxPipeline()
	pipe.ZIncrBy(ctx, leaderboardKey, float64(points), responder)
	pipe.HSet(ctx, scoreKey, "name", responder)
	pipe.HIncrBy(ctx, scoreKey, "points", int64(points))
	pipe.HIncrBy(ctx, scoreKey, "acks", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("add points: %w", err)
	}

	return s.readScore(ctx, responder)
}

// Leaderboard returns the top n responders by cumulative points.
func (s *Store) Leaderboard(ctx context.Context, n int) ([]game.Standing, error) {
	members, err := s.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}

	standings := make([]game.Standing, 0, len(members))
	for i, member := range members {
		responder, ok := member.Member.(string)
		if !ok {
			continue
		}
		score, err := s.readScore(ctx, responder)
		if err != nil {
			return nil, err
		}
		standings = append(standings, game.Standing{
			Rank:  i + 1,
			Score: *score,
		})
	}
	return standings, nil
}

// StandingFor returns the responder's own rank and score.
func (s *Store) StandingFor(ctx context.Context, responder string) (*game.Standing, error) {
	rank, err := s.client.ZRevRank(ctx, leaderboardKey, responder).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rank: %w", err)
	}

	score, err := s.readScore(ctx, responder)
	if err != nil {
		return nil, err
	}
	return &game.Standing{
		Rank:  int(rank) + 1,
		Score: *score,
	}, nil
}

// ResetScores folds current points into high scores and clears the
// board.
func (s *Store) ResetScores(ctx context.Context) error {
	responders, err := s.client.ZRange(ctx, leaderboardKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read leaderboard members: %w", err)
	}

	for _, responder := range responders {
		score, err := s.readScore(ctx, responder)
		if err != nil {
			return err
		}
		high := score.HighScore
		if score.Points > high {
			high = score.Points
		}
		err = s.client.HSet(ctx, scoreKeyPrefix+responder,
			"points", 0,
			"acks", 0,
			"high_score", high,
		).Err()
		if err != nil {
			return fmt.Errorf("reset score: %w", err)
		}
	}

	if err := s.client.Del(ctx, leaderboardKey).Err(); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	return nil
}

func (s *Store) readScore(ctx context.Context, responder string) (*domain.Score, error) {
	fields, err := s.client.HGetAll(ctx, scoreKeyPrefix+responder).Result()
	if err != nil {
		return nil, fmt.Errorf("read score: %w", err)
	}

	score := &domain.Score{
		Responder: responder,
		Name:      responder,
	}
	if name, ok := fields["name"]; ok && name != "" {
		score.Name = name
	}
	score.Points = parseInt(fields["points"])
	score.Acks = parseInt(fields["acks"])
	score.HighScore = parseInt(fields["high_score"])
	return score, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
