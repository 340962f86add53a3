package api_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/victornm/trivia/internal/api"
	"github.com/victornm/trivia/internal/domain"
)

func TestGameAdmin(t *testing.T) {
	st := makeStack(t, false)
	sessionID := st.createSession(t, "admin")

	c := makeAdminClient(t, st.api)
	ctx := context.Background()

	got, err := c.GetGame(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCreated), got.GetFields()["status"].GetStringValue())

	got, err = c.StartGame(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusInProgress), got.GetFields()["status"].GetStringValue())
	assert.Equal(t, "q1", got.GetFields()["currentQuestionId"].GetStringValue())

	_, err = c.RevealAnswer(ctx, sessionID)
	require.NoError(t, err)

	got, err = c.AdvanceGame(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "q2", got.GetFields()["currentQuestionId"].GetStringValue())
	assert.Equal(t, float64(2), got.GetFields()["currentQuestionNumber"].GetNumberValue())

	got, err = c.EndGame(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCompleted), got.GetFields()["status"].GetStringValue())

	_, err = c.EndGame(ctx, sessionID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "ending a completed session should fail")

	_, err = c.GetGame(ctx, "unknown")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func makeAdminClient(t *testing.T, a *api.API) *api.GameAdminClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	api.RegisterGameAdminServer(s, a)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	return api.NewGameAdminClient(cc)
}
