package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/session"
)

const (
	actionSubmitAnswer = "submit_answer"
	actionSubmitWager  = "submit_wager"
	actionReady        = "ready"
	actionLeave        = "leave"

	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxMessage   = 16 << 10
)

// inbound is a client action, {"action": ..., "data": {...}}.
type inbound struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type submitAnswerData struct {
	QuestionID string `json:"questionId"`
	// Answer is either a string or, for multi-part questions, a JSON list.
	Answer json.RawMessage `json:"answer"`
	Wager  *int            `json:"wager"`
}

// payload keeps strings as they are and passes other JSON values through as their text.
func (d submitAnswerData) payload() (string, error) {
	raw := bytes.TrimSpace(d.Answer)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	if raw[0] != '"' {
		return string(raw), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// serveWS upgrades GET /ws/sessions/:id?team=<teamId> into a team connection.
func (a *API) serveWS(c *gin.Context) {
	sessionID, teamID := c.Param("id"), c.Query("team")
	if teamID == "" {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("team is required")))
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "ws: upgrade failed", "session", sessionID, "team", teamID, "error", err)
		return
	}
	defer conn.Close()

	ctx := context.WithoutCancel(c.Request.Context())
	cl := &client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		teamID:    teamID,
		conn:      conn,
	}

	// Broadcasts sent while the replay is built are held by the hub until the replay is written.
	a.hub.add(cl)

	replay, err := a.session.Join(ctx, sessionID, teamID, cl.id)
	if err != nil {
		a.hub.remove(cl)
		cl.sendError(ctx, err)
		return
	}
	defer func() {
		a.hub.remove(cl)
		if err := a.session.Leave(ctx, cl.id); err != nil {
			slog.ErrorContext(ctx, "ws: leave failed", "conn", cl.id, "error", err)
		}
	}()

	if err := cl.catchUp(ctx, replay); err != nil {
		slog.WarnContext(ctx, "ws: replay failed", "conn", cl.id, "error", err)
		return
	}

	slog.InfoContext(ctx, "ws: connected", "conn", cl.id, "session", sessionID, "team", teamID)

	done := make(chan struct{})
	defer close(done)
	go a.keepAlive(cl, done)

	a.readLoop(ctx, cl)

	slog.InfoContext(ctx, "ws: disconnected", "conn", cl.id, "session", sessionID, "team", teamID)
}

func (a *API) readLoop(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(maxMessage)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, b, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "ws: read failed", "conn", cl.id, "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(b, &msg); err != nil {
			cl.sendError(ctx, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed message")))
			continue
		}

		if msg.Action == actionLeave {
			_ = cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(writeTimeout))
			return
		}

		if err := a.handle(ctx, cl, msg); err != nil {
			cl.sendError(ctx, err)
		}
	}
}

func (a *API) handle(ctx context.Context, cl *client, msg inbound) error {
	switch msg.Action {
	case actionSubmitAnswer, actionSubmitWager:
		var d submitAnswerData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed %s data", msg.Action))
		}
		if msg.Action == actionSubmitWager && d.Wager == nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("wager is required"))
		}

		p, err := d.payload()
		if err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed answer"))
		}

		// Correctness goes to the submitting team only, the others learn it on reveal.
		_, err = a.session.SubmitAnswer(ctx, session.SubmitAnswerRequest{
			SessionID:  cl.sessionID,
			TeamID:     cl.teamID,
			QuestionID: d.QuestionID,
			Payload:    p,
			Wager:      d.Wager,
			Acknowledge: func(res session.SubmitAnswerResult) {
				cl.send(ctx, domain.Notification{
					Event: domain.NotificationAnswerSubmitted,
					Data: domain.AnswerSubmittedPayload{
						TeamID:     cl.teamID,
						IsCorrect:  res.IsCorrect,
						ScoreDelta: res.ScoreDelta,
					},
				})
			},
		})
		return err

	case actionReady:
		_, err := a.barrier.SignalReady(ctx, cl.sessionID, cl.teamID)
		return err

	default:
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown action: %q", msg.Action))
	}
}

func (a *API) keepAlive(cl *client, done <-chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func newUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return allowOrigin(origins, r.Header.Get("Origin"))
		},
	}
}

func allowOrigin(origins []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
