//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/victornm/trivia/internal/api"
	"github.com/victornm/trivia/internal/domain"
)

const (
	httpAddr = "localhost:8080"
	grpcAddr = "localhost:8081"
)

// TestGame plays a whole game against a running server: teams answer every question with its first
// option and signal ready after each reveal, until the host ends the game.
func TestGame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var (
		admin   = makeAdminClient(t)
		session = createSession(t, "demo")
		teams   = []string{"t1", "t2", "t3"}
		conns   = make(map[string]*websocket.Conn)
	)

	for _, team := range teams {
		conns[team] = dial(t, session, team)
	}

	_, err := admin.StartGame(ctx, session)
	require.NoError(t, err)

	var eg errgroup.Group
	for _, team := range teams {
		eg.Go(func() error {
			return play(t, conns[team], team)
		})
	}

	// Advancing past the last question ends the game, EndGame stops one still running at the deadline.
	go func() {
		<-ctx.Done()
		_, _ = admin.EndGame(context.Background(), session)
	}()

	require.NoError(t, eg.Wait())

	s, err := admin.GetGame(ctx, session)
	require.NoError(t, err)
	t.Logf("Game %s finished with status %s", session, s.Fields["status"].GetStringValue())
}

func play(t *testing.T, conn *websocket.Conn, team string) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var m struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&m); err != nil {
			return fmt.Errorf("team %q read: %w", team, err)
		}

		switch m.Event {
		case domain.NotificationQuestion:
			var q domain.QuestionPayload
			if err := json.Unmarshal(m.Data, &q); err != nil {
				return err
			}

			t.Logf("Team %q got question %q (round %d, #%d, %s)", team, q.ID, q.Round, q.QuestionNumber, q.Type)
			if q.Type == domain.QuestionTypeHalftimeBreak {
				if err := send(conn, "ready", nil); err != nil {
					return err
				}
				continue
			}

			var answer string
			if len(q.Options) > 0 {
				answer = q.Options[0]
			}
			if err := send(conn, "submit_answer", map[string]any{"questionId": q.ID, "answer": answer, "wager": 1}); err != nil {
				return err
			}

		case domain.NotificationAnswerSubmitted:
			var a domain.AnswerSubmittedPayload
			if err := json.Unmarshal(m.Data, &a); err != nil {
				return err
			}
			t.Logf("Team %q answered: correct=%t, delta=%d", team, a.IsCorrect, a.ScoreDelta)

		case domain.NotificationDisplayAnswer:
			if err := send(conn, "ready", nil); err != nil {
				return err
			}

		case domain.NotificationLeaderboard:
			var l domain.LeaderboardPayload
			if err := json.Unmarshal(m.Data, &l); err != nil {
				return err
			}
			t.Logf("Team %q leaderboard:\n%s", team, formatLeaderboard(l))

		case domain.NotificationError:
			t.Logf("Team %q got error: %s", team, m.Data)

		case domain.NotificationGameEnded:
			return nil
		}
	}
}

func createSession(t *testing.T, name string) string {
	body, err := json.Marshal(map[string]any{"name": name})
	require.NoError(t, err)

	resp, err := http.Post("http://"+httpAddr+"/api/v1/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var s struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	return s.SessionID
}

func dial(t *testing.T, session, team string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws/sessions/%s?team=%s", httpAddr, session, team), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(conn *websocket.Conn, action string, data any) error {
	return conn.WriteJSON(map[string]any{"action": action, "data": data})
}

func makeAdminClient(t *testing.T) *api.GameAdminClient {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return api.NewGameAdminClient(conn)
}

func formatLeaderboard(l domain.LeaderboardPayload) string {
	var sb strings.Builder
	for _, e := range l.Entries {
		fmt.Fprintf(&sb, "%s: %d\n", e.TeamID, e.Score)
	}
	return sb.String()
}
