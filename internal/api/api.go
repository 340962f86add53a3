package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc"

	"github.com/victornm/trivia/internal/barrier"
	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/leaderboard"
	"github.com/victornm/trivia/internal/session"
)

type Config struct {
	Router      gin.IRouter
	GRPC        *grpc.Server
	EventBus    *event.Bus
	Session     *session.Service
	Barrier     *barrier.Service
	Leaderboard *leaderboard.Service
	Hub         *Hub
	// Notifier delivers leaderboard broadcasts, it is the hub itself on a single instance.
	Notifier session.Notifier
	// AllowOrigins of browser websocket clients; empty allows none but same-origin tools.
	AllowOrigins []string
}

type API struct {
	session     *session.Service
	barrier     *barrier.Service
	leaderboard *leaderboard.Service
	hub         *Hub
	notifier    session.Notifier
	upgrader    websocket.Upgrader
}

func New(c Config) *API {
	a := &API{
		session:     c.Session,
		barrier:     c.Barrier,
		leaderboard: c.Leaderboard,
		hub:         c.Hub,
		notifier:    c.Notifier,
		upgrader:    newUpgrader(c.AllowOrigins),
	}

	// HTTP APIs
	a.register(c.Router)

	// gRPC APIs
	if c.GRPC != nil {
		RegisterGameAdminServer(c.GRPC, a)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

func (a *API) register(r gin.IRouter) {
	r.GET("/ws/sessions/:id", a.serveWS)

	v1 := r.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		sessions.POST("", a.createSession)
		sessions.GET("/:id", a.getSession)
		sessions.POST("/:id/start", a.startGame)
		sessions.POST("/:id/advance", a.advanceGame)
		sessions.POST("/:id/reveal", a.revealAnswer)
		sessions.POST("/:id/end", a.endGame)
		sessions.GET("/:id/leaderboard", a.getLeaderboard)
	}
}

// PublishLeaderboardUpdated broadcasts the leaderboard to every team of the session.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.notifier.Broadcast(ctx, e.Leaderboard.SessionID, domain.Notification{
		Event: domain.NotificationLeaderboard,
		Data:  newLeaderboardPayload(e.Leaderboard),
	})
}

func newLeaderboardPayload(l domain.Leaderboard) domain.LeaderboardPayload {
	p := domain.LeaderboardPayload{
		SessionID: l.SessionID,
		Entries:   make([]domain.LeaderboardEntryPayload, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		p.Entries = append(p.Entries, domain.LeaderboardEntryPayload{
			TeamID: e.TeamID,
			Score:  int(e.Score),
		})
	}

	return p
}
