package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/score"
	"github.com/victornm/trivia/internal/telemetry"
)

// Start puts the session in progress on its first question. Starting a session in progress returns it
// unchanged. A completed session is started again from scratch when reuse is allowed.
func (s *Service) Start(ctx context.Context, sessionID string) (*domain.Session, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch ss.Status {
	case domain.StatusInProgress:
		return ss, nil
	case domain.StatusCompleted:
		if !s.allowReuse {
			return nil, errors.InvalidTransition("session is completed: session=%s", sessionID)
		}
	}

	qs, err := s.questions.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(qs) == 0 {
		return nil, errors.InvalidTransition("no question to play: session=%s", sessionID)
	}

	ids := make([]string, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.QuestionID)
	}

	first := qs[0]
	pos := nextPosition("", position{}, first.Type)
	now := s.now()

	ss.Status = domain.StatusInProgress
	ss.CurrentQuestionID = first.QuestionID
	ss.CurrentRound = pos.round
	ss.CurrentQuestionNumber = pos.number
	ss.StartedAt = &now
	ss.EndedAt = nil

	ok, err := s.store.StartSession(ctx, ss, ids)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if !ok {
		// Started concurrently.
		return s.store.GetSession(ctx, sessionID)
	}

	s.clearReady(ctx, sessionID)
	s.scorer.Forget(sessionID, first.QuestionID)

	slog.InfoContext(ctx, "session: game started", "session", sessionID, "questions", len(ids))
	s.broadcast(ctx, sessionID, domain.NotificationGameStarted, domain.GameStartedPayload{SessionID: sessionID})
	s.eb.Publish(ctx, domain.EventSessionStarted{Session: *ss})
	s.present(ctx, *ss, first)

	return ss, nil
}

type SubmitAnswerRequest struct {
	SessionID string
	TeamID    string
	// QuestionID defaults to the current question.
	QuestionID string
	Payload    string
	Wager      *int
	// Acknowledge, when set, runs once the answer is recorded and before the reveal it may complete
	// is broadcast.
	Acknowledge func(res SubmitAnswerResult)
}

type SubmitAnswerResult struct {
	IsCorrect    bool
	ScoreDelta   int
	AllSubmitted bool
	// Revealed is true when this submission completed the barrier and the answer was revealed.
	Revealed bool
}

// SubmitAnswer scores and records the answer of a team for the current question.
// The answer is revealed as soon as every active team has answered.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResult, error) {
	cur, err := s.Current(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	q := cur.Question
	switch {
	case req.QuestionID != "" && req.QuestionID != q.QuestionID:
		return nil, errors.InvalidTransition("question is not current: session=%s question=%s", req.SessionID, req.QuestionID)
	case !q.Type.ExpectsSubmission():
		return nil, errors.InvalidTransition("question takes no answer: session=%s question=%s", req.SessionID, q.QuestionID)
	case cur.Revealed:
		return nil, errors.InvalidTransition("answer already revealed: session=%s question=%s", req.SessionID, q.QuestionID)
	}

	if _, err := s.store.GetTeam(ctx, req.SessionID, req.TeamID); err != nil {
		return nil, err
	}

	res := s.scorer.Score(ctx, score.Request{
		SessionID:  req.SessionID,
		TeamID:     req.TeamID,
		QuestionID: q.QuestionID,
		Type:       q.Type,
		Selected:   req.Payload,
		Correct:    q.CorrectAnswer,
		Wager:      req.Wager,
	})

	team, err := s.tracker.Record(ctx, &domain.Answer{
		SessionID:      req.SessionID,
		TeamID:         req.TeamID,
		QuestionID:     q.QuestionID,
		SelectedAnswer: req.Payload,
		Wager:          req.Wager,
		IsCorrect:      &res.IsCorrect,
		ScoreDelta:     res.ScoreDelta,
		SubmittedAt:    s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventScoreUpdated{Team: *team})

	out := &SubmitAnswerResult{
		IsCorrect:  res.IsCorrect,
		ScoreDelta: res.ScoreDelta,
	}
	if req.Acknowledge != nil {
		req.Acknowledge(*out)
	}

	// The answer is persisted at this point; a failed barrier check is left to the countdown.
	out.AllSubmitted, err = s.tracker.AllSubmitted(ctx, req.SessionID, q.QuestionID)
	if err != nil {
		slog.ErrorContext(ctx, "session: check all submitted failed", "session", req.SessionID, "question", q.QuestionID, "error", err)
		return out, nil
	}

	if out.AllSubmitted {
		out.Revealed, err = s.reveal(ctx, cur.Session, q)
		if err != nil {
			slog.ErrorContext(ctx, "session: reveal failed", "session", req.SessionID, "question", q.QuestionID, "error", err)
		}
	}

	return out, nil
}

// Reveal shows the correct answer of the current question without waiting for the remaining teams.
// It reports false when the answer was already revealed.
func (s *Service) Reveal(ctx context.Context, sessionID, questionID string) (bool, error) {
	cur, err := s.Current(ctx, sessionID)
	if err != nil {
		return false, err
	}

	if questionID != "" && questionID != cur.Question.QuestionID {
		return false, errors.InvalidTransition("question is not current: session=%s question=%s", sessionID, questionID)
	}

	return s.reveal(ctx, cur.Session, cur.Question)
}

// reveal is guarded by the answered flag, so only one of concurrent callers broadcasts.
func (s *Service) reveal(ctx context.Context, ss domain.Session, q domain.Question) (bool, error) {
	changed, err := s.store.MarkAnswered(ctx, ss.SessionID, q.QuestionID)
	if err != nil {
		return false, fmt.Errorf("mark answered: %w", err)
	}
	if !changed {
		return false, nil
	}

	s.scorer.Forget(ss.SessionID, q.QuestionID)

	n, err := s.displayAnswer(ctx, ss, q)
	if err != nil {
		slog.ErrorContext(ctx, "session: collect results failed", "session", ss.SessionID, "question", q.QuestionID, "error", err)
	}

	telemetry.Reveals.Inc()
	slog.InfoContext(ctx, "session: answer revealed", "session", ss.SessionID, "question", q.QuestionID)

	s.broadcast(ctx, ss.SessionID, n.Event, n.Data)
	s.eb.Publish(ctx, domain.EventQuestionRevealed{
		SessionID:  ss.SessionID,
		QuestionID: q.QuestionID,
	})

	return true, nil
}

// AdvanceToNext moves the session to its next unanswered question, or completes it when none is left.
// Concurrent calls for the same question advance the session once.
func (s *Service) AdvanceToNext(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.AdvanceFrom(ctx, sessionID, "")
}

// AdvanceFrom advances the session only while questionID is its current question, and otherwise
// returns the session unchanged. An empty questionID advances from whatever question is current.
func (s *Service) AdvanceFrom(ctx context.Context, sessionID, questionID string) (*domain.Session, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if ss.Status != domain.StatusInProgress {
		return nil, errors.InvalidTransition("session is not in progress: session=%s status=%s", sessionID, ss.Status)
	}

	prev := ss.CurrentQuestionID
	if questionID != "" && questionID != prev {
		slog.DebugContext(ctx, "session: advance already applied", "session", sessionID, "question", questionID, "current", prev)
		return ss, nil
	}
	var prevType domain.QuestionType
	if prev != "" {
		pq, err := s.questions.GetQuestion(ctx, prev)
		if err != nil {
			return nil, fmt.Errorf("get question: %w", err)
		}
		prevType = pq.Type

		if _, err := s.store.MarkAnswered(ctx, sessionID, prev); err != nil {
			return nil, fmt.Errorf("mark answered: %w", err)
		}
		s.scorer.Forget(sessionID, prev)
	}

	s.clearReady(ctx, sessionID)

	sqs, err := s.store.ListSessionQuestions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}

	i := slices.IndexFunc(sqs, func(sq domain.SessionQuestion) bool { return !sq.IsAnswered })
	if i < 0 {
		if _, err := s.end(ctx, ss); err != nil {
			return nil, err
		}
		telemetry.Advances.WithLabelValues("end").Inc()
		return s.store.GetSession(ctx, sessionID)
	}

	next, err := s.questions.GetQuestion(ctx, sqs[i].QuestionID)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	pos := nextPosition(prevType, position{round: ss.CurrentRound, number: ss.CurrentQuestionNumber}, next.Type)
	ss.CurrentQuestionID = next.QuestionID
	ss.CurrentRound = pos.round
	ss.CurrentQuestionNumber = pos.number

	ok, err := s.store.AdvanceSession(ctx, ss, prev)
	if err != nil {
		return nil, fmt.Errorf("advance session: %w", err)
	}
	if !ok {
		slog.DebugContext(ctx, "session: advance already applied", "session", sessionID, "question", prev)
		return s.store.GetSession(ctx, sessionID)
	}

	telemetry.Advances.WithLabelValues(string(next.Type)).Inc()
	slog.InfoContext(ctx, "session: advanced",
		"session", sessionID,
		"question", next.QuestionID,
		"round", pos.round,
		"number", pos.number,
	)
	s.present(ctx, *ss, *next)

	return ss, nil
}

// End completes a session in progress and resets its answered flags so it can be played again.
func (s *Service) End(ctx context.Context, sessionID string) (*domain.Session, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if ss.Status != domain.StatusInProgress {
		return nil, errors.InvalidTransition("session is not in progress: session=%s status=%s", sessionID, ss.Status)
	}

	ok, err := s.end(ctx, ss)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.InvalidTransition("session is already ended: session=%s", sessionID)
	}

	return ss, nil
}

func (s *Service) end(ctx context.Context, ss *domain.Session) (bool, error) {
	now := s.now()
	ss.Status = domain.StatusCompleted
	ss.CurrentQuestionID = ""
	ss.EndedAt = &now

	ok, err := s.store.EndSession(ctx, ss)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	if !ok {
		return false, nil
	}

	s.clearReady(ctx, ss.SessionID)

	slog.InfoContext(ctx, "session: game ended", "session", ss.SessionID)
	s.broadcast(ctx, ss.SessionID, domain.NotificationGameEnded, domain.GameEndedPayload{SessionID: ss.SessionID})
	s.eb.Publish(ctx, domain.EventSessionEnded{Session: *ss})

	return true, nil
}

func (s *Service) present(ctx context.Context, ss domain.Session, q domain.Question) {
	s.broadcast(ctx, ss.SessionID, domain.NotificationQuestion, domain.NewQuestionPayload(ss, q))
	s.eb.Publish(ctx, domain.EventQuestionPresented{
		SessionID:  ss.SessionID,
		QuestionID: q.QuestionID,
		Type:       q.Type,
	})
}

// displayAnswer builds the reveal event with the results of every team that answered.
// On error the event is still usable, without results.
func (s *Service) displayAnswer(ctx context.Context, ss domain.Session, q domain.Question) (domain.Notification, error) {
	n := domain.Notification{Event: domain.NotificationDisplayAnswer}
	payload := domain.DisplayAnswerPayload{
		QuestionID:    q.QuestionID,
		CorrectAnswer: q.CorrectAnswer,
		Question:      domain.NewQuestionPayload(ss, q),
		Results:       []domain.TeamResult{},
	}
	n.Data = payload

	answers, err := s.store.ListAnswers(ctx, ss.SessionID, q.QuestionID)
	if err != nil {
		return n, fmt.Errorf("list answers: %w", err)
	}

	teams, err := s.store.ListTeams(ctx, ss.SessionID)
	if err != nil {
		return n, fmt.Errorf("list teams: %w", err)
	}

	scores := make(map[string]int, len(teams))
	for _, t := range teams {
		scores[t.TeamID] = t.Score
	}

	for _, a := range answers {
		payload.Results = append(payload.Results, domain.TeamResult{
			TeamID:     a.TeamID,
			IsCorrect:  a.IsCorrect != nil && *a.IsCorrect,
			ScoreDelta: a.ScoreDelta,
			Score:      scores[a.TeamID],
		})
	}
	n.Data = payload

	return n, nil
}

func (s *Service) clearReady(ctx context.Context, sessionID string) {
	if err := s.ready.Clear(ctx, sessionID); err != nil {
		slog.ErrorContext(ctx, "session: clear ready teams failed", "session", sessionID, "error", err)
	}
}
