package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/telemetry"
)

const writeTimeout = 10 * time.Second

// client is one websocket connection of a team.
type client struct {
	id        string
	sessionID string
	teamID    string

	// mu serializes writes, gorilla connections support a single concurrent writer.
	mu   sync.Mutex
	conn *websocket.Conn

	// Broadcasts are held in pending until the replay of the connection is written.
	live    bool
	pending [][]byte
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writeLocked(data)
}

func (c *client) writeLocked(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// broadcast writes a session broadcast, or holds it while the connection is catching up.
func (c *client) broadcast(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live {
		c.pending = append(c.pending, data)
		return nil
	}
	return c.writeLocked(data)
}

func (c *client) send(ctx context.Context, n domain.Notification) {
	b, err := json.Marshal(n)
	if err != nil {
		slog.ErrorContext(ctx, "ws: marshal notification failed", "event", n.Event, "error", err)
		return
	}

	if err := c.write(b); err != nil {
		slog.WarnContext(ctx, "ws: write failed", "conn", c.id, "event", n.Event, "error", err)
	}
}

// catchUp writes the replay, then the broadcasts held since the connection joined the hub. Held
// events the replay already carries are dropped, as is the join of this connection itself.
func (c *client) catchUp(ctx context.Context, replay []domain.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	covered := make(map[eventKey]bool, len(replay))
	for _, n := range replay {
		b, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", n.Event, err)
		}
		if err := c.writeLocked(b); err != nil {
			return err
		}
		covered[keyOf(b)] = true
	}

	for _, b := range c.pending {
		k := keyOf(b)
		switch {
		case k.event == domain.NotificationTeamJoined && k.team == c.teamID:
			continue
		case covered[k]:
			continue
		case k.event == domain.NotificationQuestion || k.event == domain.NotificationGameStarted || k.event == domain.NotificationGameEnded:
			// Past this point the game moved beyond the replay.
			clear(covered)
		}

		if err := c.writeLocked(b); err != nil {
			return err
		}
	}

	if len(c.pending) > 0 {
		slog.DebugContext(ctx, "ws: held broadcasts flushed", "conn", c.id, "count", len(c.pending))
	}
	c.pending = nil
	c.live = true
	return nil
}

// eventKey identifies an event by what it is about, regardless of its other fields.
type eventKey struct {
	event    string
	question string
	team     string
}

func keyOf(data []byte) eventKey {
	var n struct {
		Event string `json:"event"`
		Data  struct {
			ID         string `json:"id"`
			QuestionID string `json:"questionId"`
			TeamID     string `json:"teamId"`
		} `json:"data"`
	}
	_ = json.Unmarshal(data, &n)

	q := n.Data.QuestionID
	if q == "" {
		q = n.Data.ID
	}
	return eventKey{event: n.Event, question: q, team: n.Data.TeamID}
}

// sendError reports a rejected action to this connection only.
func (c *client) sendError(ctx context.Context, err error) {
	e := errors.Convert(err)
	msg := e.Message
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(ctx, "ws: action failed", "conn", c.id, "session", c.sessionID, "team", c.teamID, "error", err)
		msg = "internal error"
	}

	c.send(ctx, domain.Notification{
		Event: domain.NotificationError,
		Data:  domain.ErrorPayload{Message: msg},
	})
}

// Hub holds the websocket connections of this instance, grouped by session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*client
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[string]*client),
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[c.sessionID] == nil {
		h.sessions[c.sessionID] = make(map[string]*client)
	}
	h.sessions[c.sessionID][c.id] = c
	telemetry.ActiveConnections.Inc()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.sessions[c.sessionID]
	if !ok {
		return
	}
	if _, ok := conns[c.id]; !ok {
		return
	}

	delete(conns, c.id)
	if len(conns) == 0 {
		delete(h.sessions, c.sessionID)
	}
	telemetry.ActiveConnections.Dec()
}

// Count returns the number of connections to a session on this instance.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions[sessionID])
}

// Broadcast delivers n to the connections of the session held by this instance.
func (h *Hub) Broadcast(ctx context.Context, sessionID string, n domain.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", n.Event, err)
	}

	h.deliver(ctx, sessionID, b)
	return nil
}

func (h *Hub) deliver(ctx context.Context, sessionID string, data []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.broadcast(data); err != nil {
			// The read loop of the connection fails next and cleans it up.
			slog.WarnContext(ctx, "ws: write failed, closing connection", "conn", c.id, "session", sessionID, "error", err)
			_ = c.conn.Close()
		}
	}
}
