package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/registry"
	"github.com/victornm/trivia/internal/score"
	"github.com/victornm/trivia/internal/submission"
)

type Store interface {
	CreateSession(ctx context.Context, ss *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	StartSession(ctx context.Context, ss *domain.Session, questionIDs []string) (bool, error)
	AdvanceSession(ctx context.Context, ss *domain.Session, prevQuestionID string) (bool, error)
	EndSession(ctx context.Context, ss *domain.Session) (bool, error)

	ListSessionQuestions(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error)
	GetSessionQuestion(ctx context.Context, sessionID, questionID string) (*domain.SessionQuestion, error)
	MarkAnswered(ctx context.Context, sessionID, questionID string) (bool, error)

	AddTeam(ctx context.Context, sessionID, teamID string) (bool, error)
	GetTeam(ctx context.Context, sessionID, teamID string) (*domain.SessionTeam, error)
	ListTeams(ctx context.Context, sessionID string) ([]domain.SessionTeam, error)

	ListAnswers(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error)
}

type QuestionStore interface {
	GetQuestion(ctx context.Context, questionID string) (*domain.Question, error)
	ListQuestions(ctx context.Context) ([]domain.Question, error)
}

type Presence interface {
	Join(ctx context.Context, sessionID, teamID, connID string) (bool, error)
	Leave(ctx context.Context, connID string) (registry.Membership, bool, error)
	ActiveTeams(ctx context.Context, sessionID string) ([]string, error)
}

type ReadySet interface {
	Contains(ctx context.Context, sessionID, teamID string) (bool, error)
	Clear(ctx context.Context, sessionID string) error
}

// Notifier delivers events to every client connected to a session.
type Notifier interface {
	Broadcast(ctx context.Context, sessionID string, n domain.Notification) error
}

type Config struct {
	Store     Store
	Questions QuestionStore
	Presence  Presence
	Ready     ReadySet
	Tracker   *submission.Tracker
	Scorer    *score.Service
	Notifier  Notifier
	EventBus  *event.Bus

	// AllowReuse lets a completed session be started again.
	AllowReuse bool
	Now        func() time.Time
}

// Service drives a game session through Created, InProgress and Completed.
type Service struct {
	store     Store
	questions QuestionStore
	presence  Presence
	ready     ReadySet
	tracker   *submission.Tracker
	scorer    *score.Service
	notifier  Notifier
	eb        *event.Bus

	allowReuse bool
	now        func() time.Time
}

func NewService(c Config) *Service {
	now := c.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:      c.Store,
		questions:  c.Questions,
		presence:   c.Presence,
		ready:      c.Ready,
		tracker:    c.Tracker,
		scorer:     c.Scorer,
		notifier:   c.Notifier,
		eb:         c.EventBus,
		allowReuse: c.AllowReuse,
		now:        now,
	}
}

// CreateSession creates an empty session waiting for teams.
func (s *Service) CreateSession(ctx context.Context, name string) (*domain.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("session name is required"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	ss := &domain.Session{
		SessionID: id.String(),
		Name:      name,
		Status:    domain.StatusCreated,
		CreatedAt: s.now(),
	}

	if err := s.store.CreateSession(ctx, ss); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.InfoContext(ctx, "session: created", "session", ss.SessionID, "name", ss.Name)
	return ss, nil
}

// State is a snapshot of a session for hosts.
type State struct {
	Session     domain.Session
	Questions   []domain.SessionQuestion
	Teams       []domain.SessionTeam
	ActiveTeams []string
}

func (s *Service) GetState(ctx context.Context, sessionID string) (*State, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sqs, err := s.store.ListSessionQuestions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}

	teams, err := s.store.ListTeams(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	active, err := s.presence.ActiveTeams(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list active teams: %w", err)
	}

	return &State{
		Session:     *ss,
		Questions:   sqs,
		Teams:       teams,
		ActiveTeams: active,
	}, nil
}

// Join attaches a connection of a team to a session, adding the team to the session on its first visit.
// It returns the events the connection must receive to catch up with the game.
func (s *Service) Join(ctx context.Context, sessionID, teamID, connID string) ([]domain.Notification, error) {
	if strings.TrimSpace(teamID) == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("team is required"))
	}

	if _, err := s.store.AddTeam(ctx, sessionID, teamID); err != nil {
		return nil, fmt.Errorf("add team: %w", err)
	}

	added, err := s.presence.Join(ctx, sessionID, teamID, connID)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}

	if added {
		slog.InfoContext(ctx, "session: team joined", "session", sessionID, "team", teamID)
		s.broadcast(ctx, sessionID, domain.NotificationTeamJoined, domain.TeamJoinedPayload{
			SessionID: sessionID,
			TeamID:    teamID,
		})
	}

	return s.Replay(ctx, sessionID, teamID)
}

// Leave detaches a connection. Unknown connections are ignored.
func (s *Service) Leave(ctx context.Context, connID string) error {
	m, removed, err := s.presence.Leave(ctx, connID)
	if err != nil {
		return fmt.Errorf("leave: %w", err)
	}

	if removed {
		slog.InfoContext(ctx, "session: team left", "session", m.SessionID, "team", m.TeamID)
		s.broadcast(ctx, m.SessionID, domain.NotificationTeamLeft, domain.TeamLeftPayload{
			SessionID: m.SessionID,
			TeamID:    m.TeamID,
		})
	}

	return nil
}

// Current is the question a session in progress is playing.
type Current struct {
	Session  domain.Session
	Question domain.Question
	Revealed bool
}

// Current fails with an invalid transition when the session is not playing a question.
func (s *Service) Current(ctx context.Context, sessionID string) (*Current, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if ss.Status != domain.StatusInProgress || ss.CurrentQuestionID == "" {
		return nil, errors.InvalidTransition("session is not in progress: session=%s status=%s", sessionID, ss.Status)
	}

	q, err := s.questions.GetQuestion(ctx, ss.CurrentQuestionID)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	sq, err := s.store.GetSessionQuestion(ctx, sessionID, ss.CurrentQuestionID)
	if err != nil {
		return nil, fmt.Errorf("get session question: %w", err)
	}

	return &Current{
		Session:  *ss,
		Question: *q,
		Revealed: sq.IsAnswered,
	}, nil
}

func (s *Service) broadcast(ctx context.Context, sessionID, name string, data any) {
	err := s.notifier.Broadcast(ctx, sessionID, domain.Notification{
		Event: name,
		Data:  data,
	})
	if err != nil {
		slog.ErrorContext(ctx, "session: broadcast failed",
			"session", sessionID,
			"event", name,
			"error", err,
		)
	}
}
