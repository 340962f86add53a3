//go:build integration_test

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/store/postgres"
)

func TestStore_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := makeStore(t)

	ss := makeSession(t, s)

	added, err := s.AddTeam(ctx, ss.SessionID, "t1")
	require.NoError(t, err)
	require.True(t, added)

	added, err = s.AddTeam(ctx, ss.SessionID, "t1")
	require.NoError(t, err)
	assert.False(t, added, "a team should join a session once")

	_, err = s.AddTeam(ctx, "unknown", "t1")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	ss.Status = domain.StatusInProgress
	ss.CurrentQuestionID = "pg-q1"
	ss.CurrentRound, ss.CurrentQuestionNumber = 1, 1
	ok, err := s.StartSession(ctx, ss, []string{"pg-q1", "pg-q2"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.StartSession(ctx, ss, []string{"pg-q1", "pg-q2"})
	require.NoError(t, err)
	assert.False(t, ok, "a session in progress should not start again")

	next := *ss
	next.CurrentQuestionID = "pg-q2"
	next.CurrentQuestionNumber = 2
	ok, err = s.AdvanceSession(ctx, &next, "pg-q1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AdvanceSession(ctx, &next, "pg-q1")
	require.NoError(t, err)
	assert.False(t, ok, "a stale advance should not be applied")

	sq, err := s.GetSessionQuestion(ctx, ss.SessionID, "pg-q1")
	require.NoError(t, err)
	assert.True(t, sq.IsAnswered)

	changed, err := s.MarkAnswered(ctx, ss.SessionID, "pg-q2")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkAnswered(ctx, ss.SessionID, "pg-q2")
	require.NoError(t, err)
	assert.False(t, changed)

	next.Status = domain.StatusCompleted
	next.CurrentQuestionID = ""
	ok, err = s.EndSession(ctx, &next)
	require.NoError(t, err)
	require.True(t, ok)

	sqs, err := s.ListSessionQuestions(ctx, ss.SessionID)
	require.NoError(t, err)
	require.Len(t, sqs, 2)
	for _, sq := range sqs {
		assert.False(t, sq.IsAnswered, "ending a session should reset the answered flags")
	}

	got, err := s.GetSession(ctx, ss.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Empty(t, got.CurrentQuestionID)
}

func TestStore_SaveAnswer(t *testing.T) {
	ctx := context.Background()
	s := makeStore(t)
	ss := makeSession(t, s)

	_, err := s.AddTeam(ctx, ss.SessionID, "t1")
	require.NoError(t, err)

	team, err := s.SaveAnswer(ctx, &domain.Answer{
		SessionID: ss.SessionID, TeamID: "t1", QuestionID: "pg-q1",
		SelectedAnswer: "a", ScoreDelta: 10, SubmittedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, team.Score)

	team, err = s.SaveAnswer(ctx, &domain.Answer{
		SessionID: ss.SessionID, TeamID: "t1", QuestionID: "pg-q1",
		SelectedAnswer: "b", ScoreDelta: -10, SubmittedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, -10, team.Score, "resubmission should replace the previous delta")

	n, err := s.CountAnswers(ctx, ss.SessionID, "pg-q1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.SaveAnswer(ctx, &domain.Answer{SessionID: ss.SessionID, TeamID: "unknown", QuestionID: "pg-q1", SubmittedAt: time.Now()})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func makeStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("TRIVIA_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRIVIA_POSTGRES_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	s := postgres.NewStore(db)
	require.NoError(t, s.Migrate(ctx))

	points := 10
	require.NoError(t, s.SaveQuestions(ctx, []domain.Question{
		{QuestionID: "pg-q1", Type: domain.QuestionTypeRegular, Text: []string{"Capital of France?"}, Options: []string{"Paris", "Lyon"}, CorrectAnswer: []string{"Paris"}, Points: &points},
		{QuestionID: "pg-q2", Type: domain.QuestionTypeLightning, Text: []string{"2 + 2?"}, Options: []string{"4", "5"}, CorrectAnswer: []string{"4"}},
	}))

	return s
}

func makeSession(t *testing.T, s *postgres.Store) *domain.Session {
	t.Helper()

	ss := &domain.Session{
		SessionID: uuid.NewString(),
		Name:      t.Name(),
		Status:    domain.StatusCreated,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateSession(context.Background(), ss))

	err := s.CreateSession(context.Background(), ss)
	require.True(t, errors.Is(err, errors.CodeAlreadyExists))

	return ss
}
