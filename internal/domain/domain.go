package domain

import (
	"time"
)

type Status string

const (
	StatusCreated    Status = "Created"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
)

// Session represents one played-through instance of a trivia game.
type Session struct {
	SessionID             string
	Name                  string
	Status                Status
	CurrentQuestionID     string // empty when no question is current
	CurrentRound          int
	CurrentQuestionNumber int
	CreatedAt             time.Time
	StartedAt             *time.Time
	EndedAt               *time.Time
}

// SessionQuestion places a question in the traversal order of a session.
type SessionQuestion struct {
	SessionID  string
	QuestionID string
	OrderIndex int
	IsAnswered bool
}

// SessionTeam is a team's membership in a session. Score may go negative.
type SessionTeam struct {
	SessionID string
	TeamID    string
	Score     int
}

type Question struct {
	QuestionID    string
	Type          QuestionType
	Text          []string
	Options       []string
	CorrectAnswer []string
	// Points is the fallback wager used when a team fails to answer in time.
	Points *int
}

// Answer is a team's submission for a question. There is at most one per (session, team, question).
type Answer struct {
	SessionID      string
	TeamID         string
	QuestionID     string
	SelectedAnswer string
	Wager          *int
	IsCorrect      *bool
	ScoreDelta     int
	SubmittedAt    time.Time
}

// Leaderboard lists the teams of a session sorted by score in descending order.
type Leaderboard struct {
	SessionID string
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	TeamID string
	Score  float64
}
