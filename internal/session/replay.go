package session

import (
	"context"
	"fmt"

	"github.com/victornm/trivia/internal/domain"
)

// Replay rebuilds, from persisted state only, the events a team connected since the start would have seen:
//
//  1. GameState
//  2. when a question is being played and its answer is not revealed yet:
//     Question, then AnswerSubmitted if the team answered
//  3. when the answer is revealed or every active team answered:
//     AnswerSubmitted if the team answered, then DisplayAnswer in place of Question
//  4. TeamSignaledReady if the team is ready for the next question
func (s *Service) Replay(ctx context.Context, sessionID, teamID string) ([]domain.Notification, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := []domain.Notification{domain.NewGameState(*ss)}

	if ss.Status == domain.StatusInProgress && ss.CurrentQuestionID != "" {
		qn, err := s.replayQuestion(ctx, *ss, teamID)
		if err != nil {
			return nil, err
		}
		out = append(out, qn...)
	}

	ready, err := s.ready.Contains(ctx, sessionID, teamID)
	if err != nil {
		return nil, fmt.Errorf("check ready: %w", err)
	}
	if ready {
		out = append(out, domain.Notification{
			Event: domain.NotificationTeamSignaledReady,
			Data:  domain.TeamSignaledReadyPayload{TeamID: teamID},
		})
	}

	return out, nil
}

func (s *Service) replayQuestion(ctx context.Context, ss domain.Session, teamID string) ([]domain.Notification, error) {
	q, err := s.questions.GetQuestion(ctx, ss.CurrentQuestionID)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	sq, err := s.store.GetSessionQuestion(ctx, ss.SessionID, q.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("get session question: %w", err)
	}

	all, err := s.tracker.AllSubmitted(ctx, ss.SessionID, q.QuestionID)
	if err != nil {
		return nil, err
	}

	a, err := s.tracker.Answer(ctx, ss.SessionID, teamID, q.QuestionID)
	if err != nil {
		return nil, err
	}

	var out []domain.Notification
	if !sq.IsAnswered && !all {
		out = append(out, domain.Notification{
			Event: domain.NotificationQuestion,
			Data:  domain.NewQuestionPayload(ss, *q),
		})
		if a != nil {
			out = append(out, answerSubmitted(*a))
		}
		return out, nil
	}

	if a != nil {
		out = append(out, answerSubmitted(*a))
	}

	n, err := s.displayAnswer(ctx, ss, *q)
	if err != nil {
		return nil, err
	}

	return append(out, n), nil
}

func answerSubmitted(a domain.Answer) domain.Notification {
	return domain.Notification{
		Event: domain.NotificationAnswerSubmitted,
		Data: domain.AnswerSubmittedPayload{
			TeamID:     a.TeamID,
			IsCorrect:  a.IsCorrect != nil && *a.IsCorrect,
			ScoreDelta: a.ScoreDelta,
		},
	}
}
