package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rolechat/internal/client"
	"rolechat/internal/core/domain"
	"rolechat/internal/core/services"
	httpapi "rolechat/internal/handlers/http"
	"rolechat/internal/infrastructure/middleware"
	"rolechat/internal/infrastructure/realtime"
	"rolechat/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAPIKey = "appKey123:s3cr3t-signing-key"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.yaml")
}

func TestTokenMintAndInspect(t *testing.T) {
	t.Setenv("ROLECHAT_REALTIME_API_KEY", testAPIKey)

	out, err := run(t, "token", "mint", "--client-id", "alice@example.com", "--mod", "--config", missingConfig(t))
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	grant, err := services.NewTokenMinter(testAPIKey).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", grant.ClientID)
	assert.True(t, grant.Claim.IsMod)
	assert.True(t, grant.Capability.IsWildcard())

	out, err = run(t, "token", "inspect", token)
	require.NoError(t, err)
	var inspected map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &inspected))
	assert.Equal(t, "alice@example.com", inspected["clientId"])
	assert.Equal(t, true, inspected["isMod"])
	assert.Equal(t, true, inspected["wildcard"])
	assert.Equal(t, "appKey123", inspected["header"].(map[string]interface{})["kid"])
}

func TestTokenMint_Capability(t *testing.T) {
	t.Setenv("ROLECHAT_REALTIME_API_KEY", testAPIKey)

	out, err := run(t, "token", "mint", "--client-id", "bob",
		"--capability", `{"chat:random":["subscribe"]}`, "--config", missingConfig(t))
	require.NoError(t, err)

	_, grant, err := services.InspectToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.True(t, grant.Capability.Allows("chat:random", domain.ActionSubscribe))
	assert.False(t, grant.Capability.Allows("chat:random", domain.ActionPublish))
	assert.False(t, grant.Claim.IsMod)

	_, err = run(t, "token", "mint", "--client-id", "bob", "--capability", "{not json", "--config", missingConfig(t))
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestTokenInspect_Rejects(t *testing.T) {
	_, err := run(t, "token", "inspect", "garbage")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = run(t, "token", "inspect")
	assert.Error(t, err)
}

func TestUsers_Table(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("rolechat_session")
		if err != nil || cookie.Value != "sess-token" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"User not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/users":
			_, _ = w.Write([]byte(`{"users":[{"id":"1","key":"alice@example.com","first_name":"Alice","roles":[{"role":"admin","tenant":"default"},{"role":"moderator","tenant":"default","resource_instance":"channel:general"}]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	out, err := run(t, "users", "--server", srv.URL, "--session", "sess-token")
	require.NoError(t, err)
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "admin,moderator@channel:general")

	_, err = run(t, "users", "--server", srv.URL, "--session", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "User not found")
}

type stack struct {
	server *httptest.Server
	log    *memory.ChannelLog
}

func newStack(t *testing.T, moderators ...string) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()

	store := memory.NewRoleStore(domain.DefaultTenant, domain.DefaultChannelKey, "random", domain.ModChannelKey)
	sessions := services.NewSessionService("cli-test-secret", time.Hour)
	minter := services.NewTokenMinter(testAPIKey)
	directory := services.NewDirectoryService(store, logger)
	resolver := services.NewResourceResolver(store, 0)
	t.Cleanup(resolver.Close)
	require.NoError(t, directory.BootstrapModerators(context.Background(), moderators))

	log := memory.NewChannelLog(100)
	channelAuth := services.NewChannelAuthService(store, minter, nil, logger)
	workflow := services.NewRoleTransitionWorkflow(store, store, resolver, services.RoleTransitionOptions{}, nil, logger)
	gateway := realtime.NewGateway(minter, log, memory.NewPresence(), nil, nil, realtime.DefaultOptions(), logger)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	router.Use(middleware.SessionMiddleware(sessions, client.DefaultSessionCookie))
	httpapi.NewAuthHandler(sessions, directory, channelAuth, httpapi.AuthOptions{CookieName: client.DefaultSessionCookie, DevSignIn: true}).SetupRoutes(router)
	httpapi.NewUserHandler(directory, resolver).SetupRoutes(router)
	httpapi.NewRoleHandler(workflow, logger).SetupRoutes(router)
	router.GET("/realtime", gin.WrapH(gateway))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &stack{server: srv, log: log}
}

func (s *stack) signIn(t *testing.T, email string) {
	t.Helper()
	_, err := client.NewAPIClient(s.server.URL).SignIn(context.Background(), email, "", "")
	require.NoError(t, err)
}

func (s *stack) logged(t *testing.T, channel string) []*domain.Message {
	t.Helper()
	msgs, err := s.log.History(context.Background(), channel, domain.HistoryQuery{Direction: domain.HistoryForwards})
	require.NoError(t, err)
	return msgs
}

func TestUsersAndPromote(t *testing.T) {
	s := newStack(t, "alice@example.com")
	s.signIn(t, "bob@example.com")

	out, err := run(t, "users", "--server", s.server.URL, "--email", "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "bob@example.com")

	out, err = run(t, "promote", "--server", s.server.URL, "--email", "alice@example.com",
		"--key", "bob@example.com", "--channel", "chat:random")
	require.NoError(t, err)
	assert.Contains(t, out, "assignModChannelRole")
	assert.Contains(t, out, "fulfilled")

	notices := s.logged(t, "chat:random")
	require.Len(t, notices, 1)
	assert.Equal(t, domain.MessagePromote, notices[0].Name)
	assert.Equal(t, "alice@example.com", notices[0].ClientID)
	assert.Equal(t, "bob@example.com", notices[0].Data.ID)
	assert.Equal(t, domain.RoleModerator, notices[0].Data.Role)

	out, err = run(t, "users", "--server", s.server.URL, "--email", "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "moderator@channel:random")

	_, err = run(t, "demote", "--server", s.server.URL, "--email", "alice@example.com",
		"--key", "bob@example.com", "--channel", "chat:random")
	require.NoError(t, err)

	notices = s.logged(t, "chat:random")
	require.Len(t, notices, 2)
	assert.Equal(t, domain.MessageDemote, notices[1].Name)
	assert.Equal(t, "bob@example.com", notices[1].Data.ID)
	assert.Equal(t, domain.RoleParticipant, notices[1].Data.Role)

	_, err = run(t, "promote", "--server", s.server.URL)
	assert.Error(t, err)
}

func TestPromote_RejectedIsNotAnnounced(t *testing.T) {
	s := newStack(t, "alice@example.com")
	s.signIn(t, "bob@example.com")

	_, err := run(t, "promote", "--server", s.server.URL, "--email", "alice@example.com",
		"--key", "bob@example.com", "--channel", "chat:nowhere")
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	assert.Empty(t, s.logged(t, "chat:nowhere"))
}

func TestPromote_WithoutCredential(t *testing.T) {
	s := newStack(t)

	_, err := run(t, "promote", "--server", s.server.URL, "--key", "bob@example.com")
	assert.ErrorIs(t, err, errNoCredential)
	assert.Empty(t, s.logged(t, domain.ChatChannel(domain.DefaultChannelKey)))
}

func TestResources(t *testing.T) {
	s := newStack(t, "alice@example.com")

	out, err := run(t, "resources", "--server", s.server.URL, "--email", "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "channel:general")
	assert.Contains(t, out, "channel:mod")
	assert.Contains(t, out, "channel:random")

	out, err = run(t, "resources", "--server", s.server.URL, "--email", "alice@example.com", "--json")
	require.NoError(t, err)
	var instances []domain.ResourceInstance
	require.NoError(t, json.Unmarshal([]byte(out), &instances))
	assert.Len(t, instances, 3)
}

func TestRealtimeEndpoint(t *testing.T) {
	tests := []struct {
		server, realtime, want string
	}{
		{"http://localhost:8080", "", "ws://localhost:8080/realtime"},
		{"https://chat.example.com/", "", "wss://chat.example.com/realtime"},
		{"http://localhost:8080", "ws://other/rt", "ws://other/rt"},
	}
	for _, tt := range tests {
		o := &options{server: tt.server, realtimeURL: tt.realtime}
		assert.Equal(t, tt.want, o.realtimeEndpoint())
	}
}

func TestSendDeleteAndPresence(t *testing.T) {
	s := newStack(t, "alice@example.com")
	channel := domain.ChatChannel(domain.DefaultChannelKey)

	out, err := run(t, "send", "--server", s.server.URL, "--email", "alice@example.com", "hello", "there")
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	logged := s.logged(t, channel)
	require.Len(t, logged, 1)
	assert.Equal(t, id, logged[0].ID)
	assert.Equal(t, "hello there", logged[0].Data.Text)

	_, err = run(t, "delete", "--server", s.server.URL, "--email", "alice@example.com", id)
	require.NoError(t, err)
	logged = s.logged(t, channel)
	require.Len(t, logged, 2)
	assert.Equal(t, domain.MessageDelete, logged[1].Name)
	assert.Equal(t, id, logged[1].Extras.Ref.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bob := client.NewAPIClient(s.server.URL)
	_, err = bob.SignIn(ctx, "bob@example.com", "", "")
	require.NoError(t, err)
	token, err := bob.RealtimeToken(ctx)
	require.NoError(t, err)
	conn, err := client.DialRealtime(ctx, "ws"+strings.TrimPrefix(s.server.URL, "http")+"/realtime", token)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Enter(ctx, channel)
	require.NoError(t, err)

	out, err = run(t, "presence", "--server", s.server.URL, "--email", "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "connected as alice@example.com")
	assert.Contains(t, out, "bob@example.com")

	_, err = run(t, "send", "--server", s.server.URL, "hello")
	assert.ErrorIs(t, err, errNoCredential)
}
