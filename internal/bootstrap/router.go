package bootstrap

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/msea200/clipshare/internal/domain"
	httpHandler "github.com/msea200/clipshare/internal/handler/http"
	wsHandler "github.com/msea200/clipshare/internal/handler/websocket"
	"github.com/msea200/clipshare/internal/middleware"
)

// Handlers 汇总路由需要的所有处理器
type Handlers struct {
	Auth      *httpHandler.AuthHandler
	Room      *httpHandler.RoomHandler
	Admin     *httpHandler.AdminHandler
	Reformat  *httpHandler.ReformatHandler
	WebSocket *wsHandler.WebSocketHandler
}

// NewRouter 设置 Gin 路由和中间件，返回包裹了 CORS 的 http.Handler
func NewRouter(cfg *Config, log *logrus.Logger, redisClient *redis.Client, tokens middleware.TokenParser, h Handlers) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))

	api := router.Group("/api")
	api.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))

	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", h.Auth.Register)
		authRoutes.POST("/login", h.Auth.Login)
		authRoutes.GET("/me", middleware.Auth(tokens), h.Auth.Me)
	}

	roomRoutes := api.Group("/rooms", middleware.OptionalAuth(tokens))
	{
		roomRoutes.POST("", h.Room.CreateRoom)
		roomRoutes.POST("/today", h.Room.Today)
		roomRoutes.POST("/:code/join", h.Room.JoinRoom)
		roomRoutes.POST("/:code/notes", h.Room.AddNote)
		roomRoutes.DELETE("/:code/notes/:id", h.Room.DeleteNote)
		roomRoutes.PUT("/:code/draft", h.Room.SetDraft)
	}

	adminRoutes := api.Group("/admin", middleware.Auth(tokens), middleware.RequireRole(domain.RoleAdmin))
	{
		adminRoutes.GET("/rooms", h.Admin.ListRooms)
		adminRoutes.POST("/rooms/:code/permanent", h.Admin.TogglePermanent)
		adminRoutes.DELETE("/rooms/:code", h.Admin.DeleteRoom)
	}

	api.POST("/reformat", h.Reformat.Reformat)

	router.GET("/ws/rooms/:code", middleware.OptionalAuth(tokens), h.WebSocket.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: len(cfg.CORSAllowedOrigins) > 0,
	})
	return corsHandler.Handler(router)
}
