package domain

const (
	EventNameSessionStarted     = "session.started"
	EventNameSessionEnded       = "session.ended"
	EventNameQuestionPresented  = "question.presented"
	EventNameQuestionRevealed   = "question.revealed"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionStarted struct {
	Session Session
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventSessionEnded struct {
	Session Session
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventQuestionPresented struct {
	SessionID  string
	QuestionID string
	Type       QuestionType
}

func (EventQuestionPresented) Name() string { return EventNameQuestionPresented }

type EventQuestionRevealed struct {
	SessionID  string
	QuestionID string
}

func (EventQuestionRevealed) Name() string { return EventNameQuestionRevealed }

// EventScoreUpdated carries the total score of a team after a submission was scored.
type EventScoreUpdated struct {
	Team SessionTeam
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
