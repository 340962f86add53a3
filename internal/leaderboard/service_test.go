package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/leaderboard"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s := makeService(t)

	for _, team := range []domain.SessionTeam{
		{SessionID: "s1", TeamID: "t1", Score: 5},
		{SessionID: "s1", TeamID: "t2", Score: -3},
		{SessionID: "s1", TeamID: "t3", Score: 12},
	} {
		err := s.UpdateLeaderboard(context.Background(), domain.EventScoreUpdated{Team: team})
		require.NoError(t, err)
	}

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		SessionID: "s1",
	})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		SessionID: "s1",
		Entries: []domain.LeaderboardEntry{
			{TeamID: "t3", Score: 12},
			{TeamID: "t1", Score: 5},
			{TeamID: "t2", Score: -3},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_Reset(t *testing.T) {
	s := makeService(t)

	err := s.UpdateLeaderboard(context.Background(), domain.EventScoreUpdated{
		Team: domain.SessionTeam{SessionID: "s1", TeamID: "t1", Score: 5},
	})
	require.NoError(t, err)

	require.NoError(t, s.Reset(context.Background(), "s1"))

	_, err = s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
	assert.True(t, errors.Is(err, errors.CodeNotFound), "a reset leaderboard should be empty")
}

func TestService_Sync(t *testing.T) {
	eb := event.NewBus()
	var (
		mu        sync.Mutex
		published []domain.EventLeaderboardUpdated
	)
	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		published = append(published, e.(domain.EventLeaderboardUpdated))
		mu.Unlock()
		return nil
	})

	teams := staticTeams{
		{SessionID: "s1", TeamID: "t1", Score: 1},
		{SessionID: "s1", TeamID: "t2", Score: 7},
	}
	s := makeService(t, withEventBus(eb), withTeams(teams))

	// A stale total that landed after the latest one.
	err := s.UpdateLeaderboard(context.Background(), domain.EventScoreUpdated{
		Team: domain.SessionTeam{SessionID: "s1", TeamID: "t1", Score: 40},
	})
	require.NoError(t, err)

	require.NoError(t, s.Sync(context.Background(), "s1"))
	eb.Stop()

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []domain.LeaderboardEntry{
		{TeamID: "t2", Score: 7},
		{TeamID: "t1", Score: 1},
	}, resp.Entries)

	require.Len(t, published, 2, "sync should publish even within the publish interval")
	assert.Equal(t, resp.Entries, published[1].Leaderboard.Entries)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventScoreUpdated
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish the leaderboard of the session after a score update": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						{Team: domain.SessionTeam{SessionID: "s1", TeamID: "t1", Score: 3}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should publish 1 leaderboard")
				require.Equal(t, domain.Leaderboard{
					SessionID: "s1",
					Entries: []domain.LeaderboardEntry{
						{TeamID: "t1", Score: 3},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish one leaderboard per session": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						{Team: domain.SessionTeam{SessionID: "s1", TeamID: "t1", Score: 3}},
						{Team: domain.SessionTeam{SessionID: "s2", TeamID: "t2", Score: 5}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should publish 2 leaderboards")
			},
		},

		"should publish once per session within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						{Team: domain.SessionTeam{SessionID: "s1", TeamID: "t1", Score: 3}},
						{Team: domain.SessionTeam{SessionID: "s1", TeamID: "t2", Score: -1}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should publish 1 leaderboard")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				err := s.UpdateLeaderboard(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Teams:    staticTeams{},
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withTeams(teams leaderboard.Teams) options {
	return func(c *leaderboard.Config) {
		c.Teams = teams
	}
}

type staticTeams []domain.SessionTeam

func (s staticTeams) ListTeams(_ context.Context, sessionID string) ([]domain.SessionTeam, error) {
	var out []domain.SessionTeam
	for _, t := range s {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}
