// Package registry tracks which teams are connected to a session and which of them signaled
// readiness to advance. Both tables live either in process memory or in redis.
package registry

import (
	"context"
	"sort"
	"sync"
)

// Membership is the (session, team) pair a connection is attached to.
type Membership struct {
	SessionID string
	TeamID    string
}

// MemoryRegistry keeps the active team sets of all sessions behind a single lock.
type MemoryRegistry struct {
	mu sync.Mutex
	// active counts live connections per team per session; a team is active while its count is positive.
	active map[string]map[string]int
	conns  map[string]Membership
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		active: make(map[string]map[string]int),
		conns:  make(map[string]Membership),
	}
}

// Join attaches a connection to a team of a session. added is true only when the team became active.
// Joining again with the same connection is a no-op.
func (r *MemoryRegistry) Join(_ context.Context, sessionID, teamID, connID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Membership{SessionID: sessionID, TeamID: teamID}
	if cur, ok := r.conns[connID]; ok {
		if cur == m {
			return false, nil
		}
		r.detach(connID, cur)
	}

	r.conns[connID] = m
	teams, ok := r.active[sessionID]
	if !ok {
		teams = make(map[string]int)
		r.active[sessionID] = teams
	}
	teams[teamID]++

	return teams[teamID] == 1, nil
}

// Leave detaches a connection. Unknown connections are ignored.
// removed is true when the team has no connection left and is no longer active.
func (r *MemoryRegistry) Leave(_ context.Context, connID string) (Membership, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[connID]
	if !ok {
		return Membership{}, false, nil
	}

	return m, r.detach(connID, m), nil
}

func (r *MemoryRegistry) detach(connID string, m Membership) bool {
	delete(r.conns, connID)

	teams := r.active[m.SessionID]
	if teams[m.TeamID] > 1 {
		teams[m.TeamID]--
		return false
	}

	delete(teams, m.TeamID)
	if len(teams) == 0 {
		delete(r.active, m.SessionID)
	}
	return true
}

func (r *MemoryRegistry) ActiveTeamCount(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.active[sessionID]), nil
}

func (r *MemoryRegistry) ActiveTeams(_ context.Context, sessionID string) ([]string, error) {
	r.mu.Lock()
	teams := make([]string, 0, len(r.active[sessionID]))
	for t := range r.active[sessionID] {
		teams = append(teams, t)
	}
	r.mu.Unlock()

	sort.Strings(teams)
	return teams, nil
}

// MemoryReadySet holds, per session, the teams that signaled they are ready for the next question.
type MemoryReadySet struct {
	mu    sync.Mutex
	ready map[string]map[string]struct{}
}

func NewMemoryReadySet() *MemoryReadySet {
	return &MemoryReadySet{
		ready: make(map[string]map[string]struct{}),
	}
}

// Add marks the team ready and reports whether it was not ready before.
func (s *MemoryReadySet) Add(_ context.Context, sessionID, teamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	teams, ok := s.ready[sessionID]
	if !ok {
		teams = make(map[string]struct{})
		s.ready[sessionID] = teams
	}

	if _, ok := teams[teamID]; ok {
		return false, nil
	}
	teams[teamID] = struct{}{}
	return true, nil
}

func (s *MemoryReadySet) Contains(_ context.Context, sessionID, teamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.ready[sessionID][teamID]
	return ok, nil
}

func (s *MemoryReadySet) Count(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.ready[sessionID]), nil
}

// Release clears the set when at least need teams are ready. Only one of concurrent callers gets true.
func (s *MemoryReadySet) Release(_ context.Context, sessionID string, need int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if need <= 0 || len(s.ready[sessionID]) < need {
		return false, nil
	}

	delete(s.ready, sessionID)
	return true, nil
}

func (s *MemoryReadySet) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ready, sessionID)
	return nil
}
