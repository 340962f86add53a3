package domain

// Names of the events delivered to clients.
const (
	NotificationTeamJoined        = "TeamJoined"
	NotificationTeamLeft          = "TeamLeft"
	NotificationGameState         = "GameState"
	NotificationQuestion          = "Question"
	NotificationAnswerSubmitted   = "AnswerSubmitted"
	NotificationDisplayAnswer     = "DisplayAnswer"
	NotificationTeamSignaledReady = "TeamSignaledReady"
	NotificationGameStarted       = "GameStarted"
	NotificationGameEnded         = "GameEnded"
	NotificationLeaderboard       = "Leaderboard"
	NotificationError             = "Error"
)

// Notification is an outbound event, serialised as {"event": ..., "data": ...}.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type (
	TeamJoinedPayload struct {
		SessionID string `json:"sessionId"`
		TeamID    string `json:"teamId"`
	}

	TeamLeftPayload struct {
		SessionID string `json:"sessionId"`
		TeamID    string `json:"teamId"`
	}

	GameStatePayload struct {
		SessionID string `json:"sessionId"`
		Status    Status `json:"status"`
		Name      string `json:"name"`
	}

	QuestionPayload struct {
		ID             string       `json:"id"`
		Text           []string     `json:"text"`
		Options        []string     `json:"options"`
		Round          int          `json:"round"`
		QuestionNumber int          `json:"questionNumber"`
		Type           QuestionType `json:"type"`
	}

	AnswerSubmittedPayload struct {
		TeamID     string `json:"teamId"`
		IsCorrect  bool   `json:"isCorrect"`
		ScoreDelta int    `json:"scoreDelta"`
	}

	DisplayAnswerPayload struct {
		QuestionID    string          `json:"questionId"`
		CorrectAnswer []string        `json:"correctAnswer"`
		Question      QuestionPayload `json:"question"`
		Results       []TeamResult    `json:"results"`
	}

	TeamResult struct {
		TeamID     string `json:"teamId"`
		IsCorrect  bool   `json:"isCorrect"`
		ScoreDelta int    `json:"scoreDelta"`
		Score      int    `json:"score"`
	}

	TeamSignaledReadyPayload struct {
		TeamID string `json:"teamId"`
	}

	GameStartedPayload struct {
		SessionID string `json:"sessionId"`
	}

	GameEndedPayload struct {
		SessionID string `json:"sessionId"`
	}

	LeaderboardPayload struct {
		SessionID string                    `json:"sessionId"`
		Entries   []LeaderboardEntryPayload `json:"entries"`
	}

	LeaderboardEntryPayload struct {
		TeamID string `json:"teamId"`
		Score  int    `json:"score"`
	}

	ErrorPayload struct {
		Message string `json:"message"`
	}
)

func NewQuestionPayload(s Session, q Question) QuestionPayload {
	return QuestionPayload{
		ID:             q.QuestionID,
		Text:           q.Text,
		Options:        q.Options,
		Round:          s.CurrentRound,
		QuestionNumber: s.CurrentQuestionNumber,
		Type:           q.Type,
	}
}

func NewGameState(s Session) Notification {
	return Notification{
		Event: NotificationGameState,
		Data: GameStatePayload{
			SessionID: s.SessionID,
			Status:    s.Status,
			Name:      s.Name,
		},
	}
}
