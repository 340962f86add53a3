// Package barrier gates the advancement of a session on the readiness of its active teams,
// and forces stalled questions to complete when their countdown expires.
package barrier

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/session"
	"github.com/victornm/trivia/internal/submission"
)

type Presence interface {
	ActiveTeamCount(ctx context.Context, sessionID string) (int, error)
	ActiveTeams(ctx context.Context, sessionID string) ([]string, error)
}

type ReadySet interface {
	Add(ctx context.Context, sessionID, teamID string) (bool, error)
	Release(ctx context.Context, sessionID string, need int) (bool, error)
	Clear(ctx context.Context, sessionID string) error
}

type Config struct {
	Session  *session.Service
	Tracker  *submission.Tracker
	Presence Presence
	Ready    ReadySet
	Notifier session.Notifier
}

type Service struct {
	game     *session.Service
	tracker  *submission.Tracker
	presence Presence
	ready    ReadySet
	notifier session.Notifier
}

func NewService(c Config) *Service {
	return &Service{
		game:     c.Session,
		tracker:  c.Tracker,
		presence: c.Presence,
		ready:    c.Ready,
		notifier: c.Notifier,
	}
}

type SignalReadyResult struct {
	// Added is false when the team had already signaled.
	Added bool
	// Advanced is true when this signal completed the barrier and the session moved on.
	Advanced bool
}

// SignalReady records that a team is ready for the next question. Teams may only signal once the
// answer of the current question is revealed, or at any time during a halftime break.
func (s *Service) SignalReady(ctx context.Context, sessionID, teamID string) (*SignalReadyResult, error) {
	cur, err := s.game.Current(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !cur.Revealed && cur.Question.Type.ExpectsSubmission() {
		return nil, errors.InvalidTransition("answer is not revealed yet: session=%s question=%s", sessionID, cur.Question.QuestionID)
	}

	added, err := s.ready.Add(ctx, sessionID, teamID)
	if err != nil {
		return nil, fmt.Errorf("add ready team: %w", err)
	}

	if added {
		s.broadcastReady(ctx, sessionID, teamID)
	}

	advanced, err := s.release(ctx, sessionID, cur.Question.QuestionID)
	if err != nil {
		return nil, err
	}

	return &SignalReadyResult{
		Added:    added,
		Advanced: advanced,
	}, nil
}

// release advances the session from questionID when every active team is ready. The ready set is
// cleared atomically, so a single caller advances.
func (s *Service) release(ctx context.Context, sessionID, questionID string) (bool, error) {
	active, err := s.presence.ActiveTeamCount(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("count active teams: %w", err)
	}

	ok, err := s.ready.Release(ctx, sessionID, active)
	if err != nil {
		return false, fmt.Errorf("release ready teams: %w", err)
	}
	if !ok {
		return false, nil
	}

	if _, err := s.game.AdvanceFrom(ctx, sessionID, questionID); err != nil {
		return false, err
	}

	return true, nil
}

// OnTimerExpiry completes the phase of a question whose countdown ran out. Teams that did not answer
// get a default answer, then the answer is revealed. A halftime break marks every active team ready
// and advances. Expiries of questions that are no longer current are ignored.
func (s *Service) OnTimerExpiry(ctx context.Context, sessionID, questionID string) error {
	cur, err := s.game.Current(ctx, sessionID)
	if errors.Is(err, errors.CodeFailedPrecondition) || errors.Is(err, errors.CodeNotFound) {
		slog.DebugContext(ctx, "barrier: stale timer ignored", "session", sessionID, "question", questionID)
		return nil
	}
	if err != nil {
		return err
	}

	if cur.Question.QuestionID != questionID {
		slog.DebugContext(ctx, "barrier: stale timer ignored", "session", sessionID, "question", questionID)
		return nil
	}

	if !cur.Question.Type.ExpectsSubmission() {
		return s.endBreak(ctx, sessionID, questionID)
	}

	if cur.Revealed {
		return nil
	}

	if err := s.submitDefaults(ctx, cur); err != nil {
		slog.ErrorContext(ctx, "barrier: submit default answers failed", "session", sessionID, "question", questionID, "error", err)
	}

	_, err = s.game.Reveal(ctx, sessionID, questionID)
	if errors.Is(err, errors.CodeFailedPrecondition) {
		return nil
	}

	return err
}

func (s *Service) endBreak(ctx context.Context, sessionID, questionID string) error {
	teams, err := s.presence.ActiveTeams(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list active teams: %w", err)
	}

	for _, team := range teams {
		added, err := s.ready.Add(ctx, sessionID, team)
		if err != nil {
			return fmt.Errorf("add ready team: %w", err)
		}
		if added {
			s.broadcastReady(ctx, sessionID, team)
		}
	}

	if err := s.ready.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear ready teams: %w", err)
	}

	_, err = s.game.AdvanceFrom(ctx, sessionID, questionID)
	return err
}

// submitDefaults answers on behalf of every active team that has not answered:
// the first option, wagering the question points.
func (s *Service) submitDefaults(ctx context.Context, cur *session.Current) error {
	teams, err := s.presence.ActiveTeams(ctx, cur.Session.SessionID)
	if err != nil {
		return fmt.Errorf("list active teams: %w", err)
	}

	q := cur.Question
	var payload string
	if len(q.Options) > 0 {
		payload = q.Options[0]
	}

	wager := 0
	if q.Points != nil {
		wager = *q.Points
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, team := range teams {
		eg.Go(func() error {
			a, err := s.tracker.Answer(ctx, cur.Session.SessionID, team, q.QuestionID)
			if err != nil {
				return err
			}
			if a != nil {
				return nil
			}

			_, err = s.game.SubmitAnswer(ctx, session.SubmitAnswerRequest{
				SessionID:  cur.Session.SessionID,
				TeamID:     team,
				QuestionID: q.QuestionID,
				Payload:    payload,
				Wager:      &wager,
			})
			if errors.Is(err, errors.CodeFailedPrecondition) {
				// Revealed by a concurrent submission.
				return nil
			}
			if err != nil {
				return fmt.Errorf("team %s: %w", team, err)
			}

			slog.InfoContext(ctx, "barrier: default answer submitted", "session", cur.Session.SessionID, "team", team, "question", q.QuestionID)
			return nil
		})
	}

	return eg.Wait()
}

func (s *Service) broadcastReady(ctx context.Context, sessionID, teamID string) {
	err := s.notifier.Broadcast(ctx, sessionID, domain.Notification{
		Event: domain.NotificationTeamSignaledReady,
		Data:  domain.TeamSignaledReadyPayload{TeamID: teamID},
	})
	if err != nil {
		slog.ErrorContext(ctx, "barrier: broadcast failed", "session", sessionID, "team", teamID, "error", err)
	}
}
