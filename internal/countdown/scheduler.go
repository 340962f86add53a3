// Package countdown runs one timer per session for the question being played and reports its expiry.
package countdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/event"
)

const expiryTimeout = 30 * time.Second

// Durations of the countdown by question type. A zero duration disables the countdown.
type Durations struct {
	Default       time.Duration
	Lightning     time.Duration
	HalftimeBreak time.Duration
	FinalWager    time.Duration
}

func (d Durations) of(t domain.QuestionType) time.Duration {
	switch t {
	case domain.QuestionTypeLightning:
		return d.Lightning
	case domain.QuestionTypeHalftimeBreak:
		return d.HalftimeBreak
	case domain.QuestionTypeFinalWager:
		return d.FinalWager
	default:
		return d.Default
	}
}

type Expirer interface {
	OnTimerExpiry(ctx context.Context, sessionID, questionID string) error
}

type Timer interface {
	Stop() bool
}

// Sessions tells which question a session is playing.
type Sessions interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

type Config struct {
	EventBus  *event.Bus
	Expirer   Expirer
	Durations Durations
	// Sessions, when set, drops presentations that arrive after the session moved past their question.
	Sessions Sessions
	// AfterFunc defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
}

type timer struct {
	questionID string
	t          Timer
}

type Scheduler struct {
	expirer   Expirer
	sessions  Sessions
	durations Durations
	afterFunc func(d time.Duration, f func()) Timer

	mu     sync.Mutex
	timers map[string]timer
}

func NewScheduler(c Config) *Scheduler {
	afterFunc := c.AfterFunc
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}

	s := &Scheduler{
		expirer:   c.Expirer,
		sessions:  c.Sessions,
		durations: c.Durations,
		afterFunc: afterFunc,
		timers:    make(map[string]timer),
	}

	c.EventBus.Subscribe(domain.EventNameQuestionPresented, func(ctx context.Context, e event.Event) error {
		qp := e.(domain.EventQuestionPresented)
		return s.schedulePresented(ctx, qp)
	})

	c.EventBus.Subscribe(domain.EventNameQuestionRevealed, func(_ context.Context, e event.Event) error {
		qr := e.(domain.EventQuestionRevealed)
		s.Cancel(qr.SessionID, qr.QuestionID)
		return nil
	})

	c.EventBus.Subscribe(domain.EventNameSessionEnded, func(_ context.Context, e event.Event) error {
		s.Cancel(e.(domain.EventSessionEnded).Session.SessionID, "")
		return nil
	})

	return s
}

// Schedule starts the countdown of a question, replacing the running countdown of the session.
func (s *Scheduler) Schedule(ctx context.Context, sessionID, questionID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedule(ctx, sessionID, questionID, d)
}

func (s *Scheduler) schedule(ctx context.Context, sessionID, questionID string, d time.Duration) {
	s.stop(sessionID)
	if d <= 0 {
		return
	}

	s.timers[sessionID] = timer{
		questionID: questionID,
		t: s.afterFunc(d, func() {
			s.expire(sessionID, questionID)
		}),
	}

	slog.DebugContext(ctx, "countdown: scheduled", "session", sessionID, "question", questionID, "duration", d)
}

// schedulePresented starts the countdown of a presented question that is still current. Bus handlers
// run concurrently, so the presentation of a question can arrive after the one of its successor.
func (s *Scheduler) schedulePresented(ctx context.Context, qp domain.EventQuestionPresented) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions != nil {
		ss, err := s.sessions.GetSession(ctx, qp.SessionID)
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		if ss.Status != domain.StatusInProgress || ss.CurrentQuestionID != qp.QuestionID {
			slog.DebugContext(ctx, "countdown: stale presentation ignored", "session", qp.SessionID, "question", qp.QuestionID)
			return nil
		}
	}

	s.schedule(ctx, qp.SessionID, qp.QuestionID, s.durations.of(qp.Type))
	return nil
}

// Cancel stops the countdown of a session if it is running for questionID. An empty questionID
// matches any question.
func (s *Scheduler) Cancel(sessionID, questionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[sessionID]
	if !ok || (questionID != "" && t.questionID != questionID) {
		return
	}

	s.stop(sessionID)
}

// Stop cancels every countdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.timers {
		s.stop(id)
	}
}

func (s *Scheduler) stop(sessionID string) {
	if t, ok := s.timers[sessionID]; ok {
		t.t.Stop()
		delete(s.timers, sessionID)
	}
}

func (s *Scheduler) expire(sessionID, questionID string) {
	s.mu.Lock()
	if t, ok := s.timers[sessionID]; ok && t.questionID == questionID {
		delete(s.timers, sessionID)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()

	slog.InfoContext(ctx, "countdown: expired", "session", sessionID, "question", questionID)
	if err := s.expirer.OnTimerExpiry(ctx, sessionID, questionID); err != nil {
		slog.ErrorContext(ctx, "countdown: handle expiry failed",
			"session", sessionID,
			"question", questionID,
			"error", err,
		)
	}
}
