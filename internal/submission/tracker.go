// Package submission keeps track of which teams answered a question. It reads through to the
// persisted answers, so counts stay correct across restarts; the only other input is the number
// of teams currently connected to the session.
package submission

import (
	"context"
	"fmt"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
)

type Store interface {
	SaveAnswer(ctx context.Context, a *domain.Answer) (*domain.SessionTeam, error)
	GetAnswer(ctx context.Context, sessionID, teamID, questionID string) (*domain.Answer, error)
	CountAnswers(ctx context.Context, sessionID, questionID string) (int, error)
}

type Presence interface {
	ActiveTeamCount(ctx context.Context, sessionID string) (int, error)
}

type Config struct {
	Store    Store
	Presence Presence
}

type Tracker struct {
	store    Store
	presence Presence
}

func NewTracker(c Config) *Tracker {
	return &Tracker{
		store:    c.Store,
		presence: c.Presence,
	}
}

// Record upserts the answer of a team. Recording again for the same question replaces the answer
// and is still counted once. It returns the team with its updated score.
func (t *Tracker) Record(ctx context.Context, a *domain.Answer) (*domain.SessionTeam, error) {
	team, err := t.store.SaveAnswer(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	return team, nil
}

// SubmittedCount is the number of distinct teams that answered the question.
func (t *Tracker) SubmittedCount(ctx context.Context, sessionID, questionID string) (int, error) {
	n, err := t.store.CountAnswers(ctx, sessionID, questionID)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}

	return n, nil
}

// AllSubmitted reports whether every active team answered the question. It is never true for a
// session without active teams.
func (t *Tracker) AllSubmitted(ctx context.Context, sessionID, questionID string) (bool, error) {
	active, err := t.presence.ActiveTeamCount(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("count active teams: %w", err)
	}
	if active == 0 {
		return false, nil
	}

	n, err := t.SubmittedCount(ctx, sessionID, questionID)
	if err != nil {
		return false, err
	}

	return n >= active, nil
}

// Answer returns the answer of a team, or nil when the team has not answered yet.
func (t *Tracker) Answer(ctx context.Context, sessionID, teamID, questionID string) (*domain.Answer, error) {
	a, err := t.store.GetAnswer(ctx, sessionID, teamID, questionID)
	if errors.Is(err, errors.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get answer: %w", err)
	}

	return a, nil
}
