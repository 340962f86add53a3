// Package memory is an in-process implementation of the question and session stores.
// It is meant for development and tests: everything is lost when the process exits.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
)

type Store struct {
	mu sync.RWMutex

	questions []domain.Question
	sessions  map[string]domain.Session
	// squestions is kept sorted by OrderIndex.
	squestions map[string][]domain.SessionQuestion
	teams      map[string]map[string]domain.SessionTeam
	// answers is keyed by session, then question, then team.
	answers map[string]map[string]map[string]domain.Answer
}

func NewStore(questions []domain.Question) *Store {
	return &Store{
		questions:  slices.Clone(questions),
		sessions:   make(map[string]domain.Session),
		squestions: make(map[string][]domain.SessionQuestion),
		teams:      make(map[string]map[string]domain.SessionTeam),
		answers:    make(map[string]map[string]map[string]domain.Answer),
	}
}

// Questions

func (s *Store) GetQuestion(_ context.Context, questionID string) (*domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, q := range s.questions {
		if q.QuestionID == questionID {
			return &q, nil
		}
	}

	return nil, errors.NotFound("question not found: question=%s", questionID)
}

func (s *Store) ListQuestions(_ context.Context) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.questions), nil
}

// SaveQuestions inserts new questions at the end of the bank and replaces existing ones in place.
func (s *Store) SaveQuestions(_ context.Context, qs []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range qs {
		i := slices.IndexFunc(s.questions, func(e domain.Question) bool { return e.QuestionID == q.QuestionID })
		if i < 0 {
			s.questions = append(s.questions, q)
			continue
		}
		s.questions[i] = q
	}

	return nil
}

// Sessions

func (s *Store) CreateSession(_ context.Context, ss *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[ss.SessionID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("session already exists: session=%s", ss.SessionID))
	}

	s.sessions[ss.SessionID] = *ss
	s.teams[ss.SessionID] = make(map[string]domain.SessionTeam)
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ss, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session not found: session=%s", sessionID)
	}

	return &ss, nil
}

// StartSession replaces the question sequence of a session that is not in progress,
// drops its answers and resets its team scores. It reports false when the session is already in progress.
func (s *Store) StartSession(_ context.Context, ss *domain.Session, questionIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[ss.SessionID]
	if !ok {
		return false, errors.NotFound("session not found: session=%s", ss.SessionID)
	}
	if cur.Status == domain.StatusInProgress {
		return false, nil
	}

	sqs := make([]domain.SessionQuestion, 0, len(questionIDs))
	for i, id := range questionIDs {
		sqs = append(sqs, domain.SessionQuestion{
			SessionID:  ss.SessionID,
			QuestionID: id,
			OrderIndex: i,
		})
	}
	s.squestions[ss.SessionID] = sqs

	delete(s.answers, ss.SessionID)
	for id, t := range s.teams[ss.SessionID] {
		t.Score = 0
		s.teams[ss.SessionID][id] = t
	}

	s.sessions[ss.SessionID] = *ss
	return true, nil
}

// AdvanceSession saves the session only if its current question is still prevQuestionID,
// marking that question answered in the same step.
func (s *Store) AdvanceSession(_ context.Context, ss *domain.Session, prevQuestionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[ss.SessionID]
	if !ok {
		return false, errors.NotFound("session not found: session=%s", ss.SessionID)
	}
	if cur.Status != domain.StatusInProgress || cur.CurrentQuestionID != prevQuestionID {
		return false, nil
	}

	if prevQuestionID != "" {
		s.markAnswered(ss.SessionID, prevQuestionID)
	}

	s.sessions[ss.SessionID] = *ss
	return true, nil
}

// EndSession saves a session that is in progress and resets every answered flag.
func (s *Store) EndSession(_ context.Context, ss *domain.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[ss.SessionID]
	if !ok {
		return false, errors.NotFound("session not found: session=%s", ss.SessionID)
	}
	if cur.Status != domain.StatusInProgress {
		return false, nil
	}

	sqs := s.squestions[ss.SessionID]
	for i := range sqs {
		sqs[i].IsAnswered = false
	}

	s.sessions[ss.SessionID] = *ss
	return true, nil
}

func (s *Store) ListSessionQuestions(_ context.Context, sessionID string) ([]domain.SessionQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.squestions[sessionID]), nil
}

func (s *Store) GetSessionQuestion(_ context.Context, sessionID, questionID string) (*domain.SessionQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sq := range s.squestions[sessionID] {
		if sq.QuestionID == questionID {
			return &sq, nil
		}
	}

	return nil, errors.NotFound("question not found in session: session=%s question=%s", sessionID, questionID)
}

// MarkAnswered sets the answered flag and reports whether it changed.
func (s *Store) MarkAnswered(_ context.Context, sessionID, questionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.squestions[sessionID], func(sq domain.SessionQuestion) bool { return sq.QuestionID == questionID })
	if i < 0 {
		return false, errors.NotFound("question not found in session: session=%s question=%s", sessionID, questionID)
	}

	return s.markAnswered(sessionID, questionID), nil
}

func (s *Store) markAnswered(sessionID, questionID string) bool {
	sqs := s.squestions[sessionID]
	for i := range sqs {
		if sqs[i].QuestionID == questionID {
			changed := !sqs[i].IsAnswered
			sqs[i].IsAnswered = true
			return changed
		}
	}

	return false
}

// Teams

// AddTeam adds a team to a session with a zero score. It reports false when the team is already a member.
func (s *Store) AddTeam(_ context.Context, sessionID, teamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	teams, ok := s.teams[sessionID]
	if !ok {
		return false, errors.NotFound("session not found: session=%s", sessionID)
	}
	if _, ok := teams[teamID]; ok {
		return false, nil
	}

	teams[teamID] = domain.SessionTeam{SessionID: sessionID, TeamID: teamID}
	return true, nil
}

func (s *Store) GetTeam(_ context.Context, sessionID, teamID string) (*domain.SessionTeam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[sessionID][teamID]
	if !ok {
		return nil, errors.NotFound("team not found: session=%s team=%s", sessionID, teamID)
	}

	return &t, nil
}

func (s *Store) ListTeams(_ context.Context, sessionID string) ([]domain.SessionTeam, error) {
	s.mu.RLock()
	teams := make([]domain.SessionTeam, 0, len(s.teams[sessionID]))
	for _, t := range s.teams[sessionID] {
		teams = append(teams, t)
	}
	s.mu.RUnlock()

	sort.Slice(teams, func(i, j int) bool {
		return teams[i].TeamID < teams[j].TeamID
	})
	return teams, nil
}

// Answers

// SaveAnswer upserts the answer of a team and moves the team score by the difference
// between the new and the replaced score delta. It returns the updated team.
func (s *Store) SaveAnswer(_ context.Context, a *domain.Answer) (*domain.SessionTeam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[a.SessionID][a.TeamID]
	if !ok {
		return nil, errors.NotFound("team not found: session=%s team=%s", a.SessionID, a.TeamID)
	}

	byQuestion, ok := s.answers[a.SessionID]
	if !ok {
		byQuestion = make(map[string]map[string]domain.Answer)
		s.answers[a.SessionID] = byQuestion
	}
	byTeam, ok := byQuestion[a.QuestionID]
	if !ok {
		byTeam = make(map[string]domain.Answer)
		byQuestion[a.QuestionID] = byTeam
	}

	prev := byTeam[a.TeamID]
	byTeam[a.TeamID] = *a

	t.Score += a.ScoreDelta - prev.ScoreDelta
	s.teams[a.SessionID][a.TeamID] = t

	return &t, nil
}

func (s *Store) GetAnswer(_ context.Context, sessionID, teamID, questionID string) (*domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.answers[sessionID][questionID][teamID]
	if !ok {
		return nil, errors.NotFound("answer not found: session=%s team=%s question=%s", sessionID, teamID, questionID)
	}

	return &a, nil
}

func (s *Store) ListAnswers(_ context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	answers := make([]domain.Answer, 0, len(s.answers[sessionID][questionID]))
	for _, a := range s.answers[sessionID][questionID] {
		answers = append(answers, a)
	}
	s.mu.RUnlock()

	sort.Slice(answers, func(i, j int) bool {
		return answers[i].TeamID < answers[j].TeamID
	})
	return answers, nil
}

func (s *Store) CountAnswers(_ context.Context, sessionID, questionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.answers[sessionID][questionID]), nil
}
