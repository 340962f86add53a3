package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
)

// Teams lists the persisted scores of a session.
type Teams interface {
	ListTeams(ctx context.Context, sessionID string) ([]domain.SessionTeam, error)
}

type Config struct {
	EventBus *event.Bus
	Teams    Teams
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	teams  Teams
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		teams:  c.Teams,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	s.eb.Subscribe(domain.EventNameSessionStarted, func(ctx context.Context, e event.Event) error {
		return s.Reset(ctx, e.(domain.EventSessionStarted).Session.SessionID)
	})

	s.eb.Subscribe(domain.EventNameQuestionRevealed, func(ctx context.Context, e event.Event) error {
		return s.Sync(ctx, e.(domain.EventQuestionRevealed).SessionID)
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the leaderboard for a session, including all teams and their scores.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.NotFound("leaderboard not found: session=%s", req.SessionID)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			TeamID: z.Member.(string),
			Score:  z.Score,
		})
	}

	return &domain.Leaderboard{
		SessionID: req.SessionID,
		Entries:   entries,
	}, nil
}

// UpdateLeaderboard overwrites the team's score in the leaderboard.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	t := e.Team

	if err := s.redis.ZAdd(ctx, s.getLeaderboardKey(t.SessionID), redis.Z{
		Score:  float64(t.Score),
		Member: t.TeamID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, t.SessionID)
}

// Sync rewrites the leaderboard from the persisted scores and publishes it unthrottled.
// Score updates are handled asynchronously and may land out of order, so every reveal settles the board.
func (s *Service) Sync(ctx context.Context, sessionID string) error {
	teams, err := s.teams.ListTeams(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}

	if len(teams) == 0 {
		return nil
	}

	members := make([]redis.Z, 0, len(teams))
	for _, t := range teams {
		members = append(members, redis.Z{Score: float64(t.Score), Member: t.TeamID})
	}

	key := s.getLeaderboardKey(sessionID)
	if _, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.ZAdd(ctx, key, members...)
		return nil
	}); err != nil {
		return fmt.Errorf("sync leaderboard: %w", err)
	}

	return s.publishLeaderboard(ctx, sessionID)
}

// Reset drops the leaderboard of a session, when it is started again.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, s.getLeaderboardKey(sessionID), s.getLeaderboardTimeKey(sessionID)).Err()
}

// schedulePublishLeaderboard publishes the leaderboard at most once per interval.
// Many scores change in a short time around the end of a question, this reduces the number of published events.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, sessionID string) error {
	// SETNX keeps multiple instances from publishing the same leaderboard.
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(sessionID), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, sessionID)
}

func (s *Service) publishLeaderboard(ctx context.Context, sessionID string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", sessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.getLeaderboardTimeKey(sessionID), time.Now().UnixMilli(), publishInterval).Err()
}

func (s *Service) getLeaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) getLeaderboardTimeKey(session string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, session)
}
