package score

import "sync"

type placementKey struct {
	sessionID  string
	questionID string
}

// Placements records the order in which teams first answered a lightning question correctly.
type Placements struct {
	mu     sync.Mutex
	places map[placementKey]map[string]int
}

func NewPlacements() *Placements {
	return &Placements{
		places: make(map[placementKey]map[string]int),
	}
}

// Claim returns the 1-based place of the team, assigning the next free place on the first call.
func (p *Placements) Claim(sessionID, questionID, teamID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := placementKey{sessionID: sessionID, questionID: questionID}
	teams, ok := p.places[k]
	if !ok {
		teams = make(map[string]int)
		p.places[k] = teams
	}

	if place, ok := teams[teamID]; ok {
		return place
	}

	place := len(teams) + 1
	teams[teamID] = place
	return place
}

// Forget drops the placements of a question once its answers are revealed.
func (p *Placements) Forget(sessionID, questionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.places, placementKey{sessionID: sessionID, questionID: questionID})
}
