package bootstrap

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msea200/clipshare/internal/domain"
	httpHandler "github.com/msea200/clipshare/internal/handler/http"
	wsHandler "github.com/msea200/clipshare/internal/handler/websocket"
	"github.com/msea200/clipshare/internal/hub"
	redisstate "github.com/msea200/clipshare/internal/infra/state/redis"
	"github.com/msea200/clipshare/internal/repository/mocks"
	"github.com/msea200/clipshare/internal/service"
)

type staticTokens map[string]*domain.Identity

func (p staticTokens) ParseToken(token string) (*domain.Identity, error) {
	if id, ok := p[token]; ok {
		return id, nil
	}
	return nil, errors.New("bad token")
}

func newTestHandler(t *testing.T, cfg *Config) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := redisstate.NewRedisRoomRepository(client, cfg.KeyPrefix)
	authService, err := service.NewAuthService(new(mocks.UserRepository), "secret", 1, nil)
	require.NoError(t, err)
	roomService := service.NewRoomService(repo, service.NewLifecycleService(repo), time.Hour, time.UTC)
	h := hub.NewHub(service.NewCollaborationService(roomService), repo.Bus())

	log := logrus.New()
	log.SetOutput(io.Discard)
	tokens := staticTokens{
		"member": {UserID: 2, Role: domain.RoleMember},
		"admin":  {UserID: 1, Role: domain.RoleAdmin},
	}
	return NewRouter(cfg, log, client, tokens, Handlers{
		Auth:      httpHandler.NewAuthHandler(authService),
		Room:      httpHandler.NewRoomHandler(roomService),
		Admin:     httpHandler.NewAdminHandler(service.NewAdminService(repo)),
		Reformat:  httpHandler.NewReformatHandler(service.NewReformatService(nil)),
		WebSocket: wsHandler.NewWebSocketHandler(h, roomService, nil),
	})
}

func request(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func testConfig() *Config {
	return &Config{KeyPrefix: "test:", RateLimitMax: 100, RateLimitWindow: time.Second}
}

func TestRouter_Ping(t *testing.T) {
	h := newTestHandler(t, testConfig())
	w := request(h, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestRouter_AdminRoutesRequireRole(t *testing.T) {
	h := newTestHandler(t, testConfig())

	assert.Equal(t, http.StatusUnauthorized, request(h, http.MethodGet, "/api/admin/rooms", "").Code)
	assert.Equal(t, http.StatusForbidden, request(h, http.MethodGet, "/api/admin/rooms", "member").Code)
	assert.Equal(t, http.StatusOK, request(h, http.MethodGet, "/api/admin/rooms", "admin").Code)
	assert.Equal(t, http.StatusUnauthorized, request(h, http.MethodGet, "/api/auth/me", "").Code)
}

func TestRouter_RoomsAreOpenToAnonymous(t *testing.T) {
	h := newTestHandler(t, testConfig())
	assert.Equal(t, http.StatusCreated, request(h, http.MethodPost, "/api/rooms", "").Code)
	assert.Equal(t, http.StatusNotFound, request(h, http.MethodGet, "/ws/rooms/ZZZ-999", "").Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowedOrigins = []string{"https://notes.example.com"}
	h := newTestHandler(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/reformat", nil)
	req.Header.Set("Origin", "https://notes.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://notes.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimitAppliesToAPI(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = 2
	cfg.RateLimitWindow = time.Minute
	h := newTestHandler(t, cfg)

	for i := 0; i < 2; i++ {
		assert.NotEqual(t, http.StatusTooManyRequests, request(h, http.MethodPost, "/api/reformat", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, request(h, http.MethodPost, "/api/reformat", "").Code)
	// /ping 不受限流影响
	assert.Equal(t, http.StatusOK, request(h, http.MethodGet, "/ping", "").Code)
}
