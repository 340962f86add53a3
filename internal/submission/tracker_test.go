package submission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/registry"
	"github.com/victornm/trivia/internal/store/memory"
	"github.com/victornm/trivia/internal/submission"
)

func TestTracker_AllSubmitted(t *testing.T) {
	type (
		inputs struct {
			connected []string
			submitted []string
		}

		outputs struct {
			count int
			all   bool
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should never be all submitted without active teams": {
			arrange: func() inputs {
				return inputs{}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Zero(t, out.count)
				assert.False(t, out.all)
			},
		},

		"should not be all submitted before the last active team answers": {
			arrange: func() inputs {
				return inputs{
					connected: []string{"t1", "t2", "t3"},
					submitted: []string{"t1", "t2"},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 2, out.count)
				assert.False(t, out.all)
			},
		},

		"should be all submitted when every active team answered": {
			arrange: func() inputs {
				return inputs{
					connected: []string{"t1", "t2", "t3"},
					submitted: []string{"t1", "t2", "t3"},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 3, out.count)
				assert.True(t, out.all)
			},
		},

		"should count resubmissions once": {
			arrange: func() inputs {
				return inputs{
					connected: []string{"t1", "t2"},
					submitted: []string{"t1", "t1", "t1"},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 1, out.count)
				assert.False(t, out.all)
			},
		},

		"should count answers of disconnected teams": {
			arrange: func() inputs {
				return inputs{
					connected: []string{"t1"},
					submitted: []string{"t1", "t2"},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 2, out.count)
				assert.True(t, out.all)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			in := tt.arrange()
			tr, store, presence := makeTracker(t)

			for _, team := range append(in.connected, in.submitted...) {
				_, err := store.AddTeam(ctx, "s1", team)
				require.NoError(t, err)
			}
			for _, team := range in.connected {
				_, err := presence.Join(ctx, "s1", team, "conn-"+team)
				require.NoError(t, err)
			}
			for _, team := range in.submitted {
				_, err := tr.Record(ctx, &domain.Answer{SessionID: "s1", TeamID: team, QuestionID: "q1", SelectedAnswer: "a"})
				require.NoError(t, err)
			}

			var (
				out outputs
				err error
			)
			out.count, err = tr.SubmittedCount(ctx, "s1", "q1")
			require.NoError(t, err)
			out.all, err = tr.AllSubmitted(ctx, "s1", "q1")
			require.NoError(t, err)

			tt.assert(t, out)
		})
	}
}

func TestTracker_Answer(t *testing.T) {
	ctx := context.Background()
	tr, store, _ := makeTracker(t)

	_, err := store.AddTeam(ctx, "s1", "t1")
	require.NoError(t, err)

	a, err := tr.Answer(ctx, "s1", "t1", "q1")
	require.NoError(t, err)
	assert.Nil(t, a, "a team that has not answered should have no answer")

	team, err := tr.Record(ctx, &domain.Answer{SessionID: "s1", TeamID: "t1", QuestionID: "q1", SelectedAnswer: "first", ScoreDelta: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, team.Score)

	team, err = tr.Record(ctx, &domain.Answer{SessionID: "s1", TeamID: "t1", QuestionID: "q1", SelectedAnswer: "second", ScoreDelta: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, team.Score)

	a, err = tr.Answer(ctx, "s1", "t1", "q1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "second", a.SelectedAnswer)
}

func makeTracker(t *testing.T) (*submission.Tracker, *memory.Store, *registry.MemoryRegistry) {
	t.Helper()

	store := memory.NewStore(nil)
	require.NoError(t, store.CreateSession(context.Background(), &domain.Session{
		SessionID: "s1",
		Status:    domain.StatusInProgress,
		CreatedAt: time.Now(),
	}))

	presence := registry.NewMemoryRegistry()
	return submission.NewTracker(submission.Config{
		Store:    store,
		Presence: presence,
	}), store, presence
}
