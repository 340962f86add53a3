package memory_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/store/memory"
)

func TestStore_SaveAnswer(t *testing.T) {
	ctx := context.Background()
	s := makeStore(t)

	_, err := s.AddTeam(ctx, "s1", "t1")
	require.NoError(t, err)

	team, err := s.SaveAnswer(ctx, &domain.Answer{SessionID: "s1", TeamID: "t1", QuestionID: "q1", SelectedAnswer: "a", ScoreDelta: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, team.Score)

	team, err = s.SaveAnswer(ctx, &domain.Answer{SessionID: "s1", TeamID: "t1", QuestionID: "q1", SelectedAnswer: "b", ScoreDelta: -10})
	require.NoError(t, err)
	assert.Equal(t, -10, team.Score, "resubmission should replace the previous delta")

	n, err := s.CountAnswers(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "resubmission should not add a row")

	a, err := s.GetAnswer(ctx, "s1", "t1", "q1")
	require.NoError(t, err)
	assert.Equal(t, "b", a.SelectedAnswer, "latest submission should win")

	_, err = s.SaveAnswer(ctx, &domain.Answer{SessionID: "s1", TeamID: "unknown", QuestionID: "q1"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestStore_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := makeStore(t)

	_, err := s.AddTeam(ctx, "s1", "t1")
	require.NoError(t, err)

	ss, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)

	ss.Status = domain.StatusInProgress
	ss.CurrentQuestionID = "q1"
	ok, err := s.StartSession(ctx, ss, []string{"q1", "q2"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.StartSession(ctx, ss, []string{"q1", "q2"})
	require.NoError(t, err)
	assert.False(t, ok, "starting a session in progress should not apply")

	_, err = s.SaveAnswer(ctx, &domain.Answer{SessionID: "s1", TeamID: "t1", QuestionID: "q1", ScoreDelta: 3})
	require.NoError(t, err)

	next := *ss
	next.CurrentQuestionID = "q2"
	ok, err = s.AdvanceSession(ctx, &next, "q1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AdvanceSession(ctx, &next, "q1")
	require.NoError(t, err)
	assert.False(t, ok, "advancing from a question that is no longer current should not apply")

	sq, err := s.GetSessionQuestion(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.True(t, sq.IsAnswered, "advance should mark the previous question answered")

	changed, err := s.MarkAnswered(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.False(t, changed)

	end := next
	end.Status = domain.StatusCompleted
	ok, err = s.EndSession(ctx, &end)
	require.NoError(t, err)
	require.True(t, ok)

	sqs, err := s.ListSessionQuestions(ctx, "s1")
	require.NoError(t, err)
	for _, sq := range sqs {
		assert.False(t, sq.IsAnswered, "end should reset answered flags")
	}

	ok, err = s.EndSession(ctx, &end)
	require.NoError(t, err)
	assert.False(t, ok, "ending a completed session should not apply")

	ok, err = s.StartSession(ctx, ss, []string{"q2"})
	require.NoError(t, err)
	require.True(t, ok, "a completed session can be started again")

	team, err := s.GetTeam(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.Zero(t, team.Score, "restart should reset scores")

	n, err := s.CountAnswers(ctx, "s1", "q1")
	require.NoError(t, err)
	assert.Zero(t, n, "restart should drop answers")
}

func TestStore_AddTeam(t *testing.T) {
	ctx := context.Background()
	s := makeStore(t)

	added, err := s.AddTeam(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddTeam(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.AddTeam(ctx, "missing", "t1")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestReadQuestions(t *testing.T) {
	const data = `[
		{"id": "q1", "type": "Lightning Round", "text": "Sky colour?", "options": ["Blue", "Red"], "correctAnswer": "Blue", "points": 5},
		{"id": "q2", "type": "half-time_bonus", "text": ["Name capitals"], "correctAnswer": "{Paris, Tokyo}"},
		{"id": "q3", "type": "???", "text": "x", "correctAnswer": [42]}
	]`

	qs, err := memory.ReadQuestions(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, qs, 3)

	assert.Equal(t, domain.QuestionTypeLightning, qs[0].Type)
	assert.Equal(t, []string{"Sky colour?"}, qs[0].Text)
	require.NotNil(t, qs[0].Points)
	assert.Equal(t, 5, *qs[0].Points)

	assert.Equal(t, domain.QuestionTypeHalftimeBonus, qs[1].Type)
	assert.Equal(t, []string{"{Paris, Tokyo}"}, qs[1].CorrectAnswer)
	assert.Nil(t, qs[1].Points)

	assert.Equal(t, domain.QuestionTypeRegular, qs[2].Type, "unknown types should be read as regular")
	assert.Equal(t, []string{"42"}, qs[2].CorrectAnswer)

	_, err = memory.ReadQuestions(strings.NewReader(`[{"type": "regular"}]`))
	assert.Error(t, err, "a question without id should be rejected")
}

func makeStore(t *testing.T) *memory.Store {
	t.Helper()

	s := memory.NewStore([]domain.Question{
		{QuestionID: "q1", Type: domain.QuestionTypeRegular},
		{QuestionID: "q2", Type: domain.QuestionTypeLightning},
	})

	require.NoError(t, s.CreateSession(context.Background(), &domain.Session{
		SessionID: "s1",
		Name:      "quiz night",
		Status:    domain.StatusCreated,
		CreatedAt: time.Now(),
	}))

	return s
}
