package countdown_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/countdown"
	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/event"
)

func TestScheduler_Schedule(t *testing.T) {
	ctx := context.Background()
	clock, expirer := &fakeClock{}, &expiries{}
	s := makeScheduler(t, event.NewBus(), clock, expirer)

	s.Schedule(ctx, "s1", "q1", time.Minute)
	s.Schedule(ctx, "s1", "q2", time.Minute)
	s.Schedule(ctx, "s2", "q1", time.Minute)

	require.Len(t, clock.timers, 3)
	assert.True(t, clock.timers[0].stopped, "a new question should replace the countdown of the session")
	assert.False(t, clock.timers[1].stopped)
	assert.False(t, clock.timers[2].stopped, "countdowns of other sessions should keep running")

	clock.timers[1].fire()
	assert.Equal(t, []string{"s1/q2"}, expirer.got())

	s.Schedule(ctx, "s3", "q1", 0)
	assert.Len(t, clock.timers, 3, "a zero duration should disable the countdown")
}

func TestScheduler_Cancel(t *testing.T) {
	ctx := context.Background()
	clock, expirer := &fakeClock{}, &expiries{}
	s := makeScheduler(t, event.NewBus(), clock, expirer)

	s.Schedule(ctx, "s1", "q1", time.Minute)

	s.Cancel("s1", "q0")
	assert.False(t, clock.timers[0].stopped, "cancelling another question should keep the countdown")

	s.Cancel("s1", "q1")
	assert.True(t, clock.timers[0].stopped)

	s.Schedule(ctx, "s1", "q2", time.Minute)
	s.Stop()
	assert.True(t, clock.timers[1].stopped)
}

func TestScheduler_Events(t *testing.T) {
	ctx := context.Background()
	eb := event.NewBus()
	clock, expirer := &fakeClock{}, &expiries{}
	makeScheduler(t, eb, clock, expirer)

	eb.Publish(ctx, domain.EventQuestionPresented{SessionID: "s1", QuestionID: "q1", Type: domain.QuestionTypeLightning})
	eb.Stop()

	require.Len(t, clock.timers, 1)
	assert.Equal(t, 10*time.Second, clock.timers[0].d, "lightning questions should use their own duration")

	eb.Publish(ctx, domain.EventQuestionRevealed{SessionID: "s1", QuestionID: "q1"})
	eb.Stop()
	assert.True(t, clock.timers[0].stopped, "a reveal should stop the countdown")

	eb.Publish(ctx, domain.EventQuestionPresented{SessionID: "s1", QuestionID: "q2", Type: domain.QuestionTypeRegular})
	eb.Stop()
	require.Len(t, clock.timers, 2)
	assert.Equal(t, time.Minute, clock.timers[1].d)

	eb.Publish(ctx, domain.EventSessionEnded{Session: domain.Session{SessionID: "s1"}})
	eb.Stop()
	assert.True(t, clock.timers[1].stopped, "ending the session should stop the countdown")
}

func TestScheduler_StalePresentation(t *testing.T) {
	ctx := context.Background()
	eb := event.NewBus()
	clock, expirer := &fakeClock{}, &expiries{}
	sessions := &currentQuestions{current: map[string]string{"s1": "q2"}}

	s := countdown.NewScheduler(countdown.Config{
		EventBus:  eb,
		Expirer:   expirer,
		Durations: countdown.Durations{Default: time.Minute},
		Sessions:  sessions,
		AfterFunc: clock.AfterFunc,
	})
	t.Cleanup(s.Stop)

	eb.Publish(ctx, domain.EventQuestionPresented{SessionID: "s1", QuestionID: "q2", Type: domain.QuestionTypeRegular})
	eb.Stop()
	require.Len(t, clock.timers, 1)

	eb.Publish(ctx, domain.EventQuestionPresented{SessionID: "s1", QuestionID: "q1", Type: domain.QuestionTypeRegular})
	eb.Stop()
	require.Len(t, clock.timers, 1, "a late presentation of a previous question should not schedule")
	assert.False(t, clock.timers[0].stopped, "the countdown of the current question should keep running")

	clock.timers[0].fire()
	assert.Equal(t, []string{"s1/q2"}, expirer.got())

	eb.Publish(ctx, domain.EventQuestionPresented{SessionID: "s2", QuestionID: "q1", Type: domain.QuestionTypeRegular})
	eb.Stop()
	assert.Len(t, clock.timers, 1, "a session that is not in progress should not schedule")
}

type currentQuestions struct {
	current map[string]string
}

func (c *currentQuestions) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	q, ok := c.current[sessionID]
	if !ok {
		return &domain.Session{SessionID: sessionID, Status: domain.StatusCompleted}, nil
	}
	return &domain.Session{SessionID: sessionID, Status: domain.StatusInProgress, CurrentQuestionID: q}, nil
}

func makeScheduler(t *testing.T, eb *event.Bus, clock *fakeClock, expirer *expiries) *countdown.Scheduler {
	t.Helper()

	s := countdown.NewScheduler(countdown.Config{
		EventBus: eb,
		Expirer:  expirer,
		Durations: countdown.Durations{
			Default:       time.Minute,
			Lightning:     10 * time.Second,
			HalftimeBreak: 5 * time.Minute,
			FinalWager:    2 * time.Minute,
		},
		AfterFunc: clock.AfterFunc,
	})
	t.Cleanup(s.Stop)

	return s
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) countdown.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasRunning := !t.stopped
	t.stopped = true
	return wasRunning
}

func (t *fakeTimer) fire() {
	t.f()
}

type expiries struct {
	mu   sync.Mutex
	seen []string
}

func (e *expiries) OnTimerExpiry(_ context.Context, sessionID, questionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seen = append(e.seen, sessionID+"/"+questionID)
	return nil
}

func (e *expiries) got() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.seen
}
