package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/leaderboard"
	"github.com/victornm/trivia/internal/session"
)

type (
	createSessionRequest struct {
		Name string `json:"name"`
	}

	revealRequest struct {
		QuestionID string `json:"questionId"`
	}

	sessionResponse struct {
		SessionID             string     `json:"sessionId"`
		Name                  string     `json:"name"`
		Status                string     `json:"status"`
		CurrentQuestionID     string     `json:"currentQuestionId,omitempty"`
		CurrentRound          int        `json:"currentRound"`
		CurrentQuestionNumber int        `json:"currentQuestionNumber"`
		CreatedAt             time.Time  `json:"createdAt"`
		StartedAt             *time.Time `json:"startedAt,omitempty"`
		EndedAt               *time.Time `json:"endedAt,omitempty"`
	}

	stateResponse struct {
		Session     sessionResponse           `json:"session"`
		Questions   []sessionQuestionResponse `json:"questions"`
		Teams       []teamResponse            `json:"teams"`
		ActiveTeams []string                  `json:"activeTeams"`
	}

	sessionQuestionResponse struct {
		QuestionID string `json:"questionId"`
		OrderIndex int    `json:"orderIndex"`
		IsAnswered bool   `json:"isAnswered"`
	}

	teamResponse struct {
		TeamID string `json:"teamId"`
		Score  int    `json:"score"`
	}

	revealResponse struct {
		Revealed bool `json:"revealed"`
	}
)

func newSessionResponse(ss domain.Session) sessionResponse {
	return sessionResponse{
		SessionID:             ss.SessionID,
		Name:                  ss.Name,
		Status:                string(ss.Status),
		CurrentQuestionID:     ss.CurrentQuestionID,
		CurrentRound:          ss.CurrentRound,
		CurrentQuestionNumber: ss.CurrentQuestionNumber,
		CreatedAt:             ss.CreatedAt,
		StartedAt:             ss.StartedAt,
		EndedAt:               ss.EndedAt,
	}
}

func newStateResponse(st session.State) stateResponse {
	resp := stateResponse{
		Session:     newSessionResponse(st.Session),
		Questions:   make([]sessionQuestionResponse, 0, len(st.Questions)),
		Teams:       make([]teamResponse, 0, len(st.Teams)),
		ActiveTeams: st.ActiveTeams,
	}
	if resp.ActiveTeams == nil {
		resp.ActiveTeams = []string{}
	}

	for _, sq := range st.Questions {
		resp.Questions = append(resp.Questions, sessionQuestionResponse{
			QuestionID: sq.QuestionID,
			OrderIndex: sq.OrderIndex,
			IsAnswered: sq.IsAnswered,
		})
	}

	for _, t := range st.Teams {
		resp.Teams = append(resp.Teams, teamResponse{TeamID: t.TeamID, Score: t.Score})
	}

	return resp
}

func (a *API) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed request"), errors.WithCause(err)))
		return
	}

	ss, err := a.session.CreateSession(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newSessionResponse(*ss))
}

func (a *API) getSession(c *gin.Context) {
	st, err := a.session.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newStateResponse(*st))
}

func (a *API) startGame(c *gin.Context) {
	ss, err := a.session.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(*ss))
}

func (a *API) advanceGame(c *gin.Context) {
	ss, err := a.session.AdvanceToNext(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(*ss))
}

func (a *API) revealAnswer(c *gin.Context) {
	// The body is optional, an empty one reveals the current question.
	var req revealRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed request"), errors.WithCause(err)))
			return
		}
	}

	revealed, err := a.session.Reveal(c.Request.Context(), c.Param("id"), req.QuestionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, revealResponse{Revealed: revealed})
}

func (a *API) endGame(c *gin.Context) {
	ss, err := a.session.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(*ss))
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: c.Param("id"),
	})
	if errors.Is(err, errors.CodeNotFound) {
		// No score recorded yet.
		c.JSON(http.StatusOK, newLeaderboardPayload(domain.Leaderboard{SessionID: c.Param("id")}))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newLeaderboardPayload(*l))
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "http: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
