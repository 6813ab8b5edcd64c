package websocket

import (
	"errors"
	"net/http"

	"github.com/msea200/clipshare/internal/hub"
	"github.com/msea200/clipshare/internal/middleware"
	"github.com/msea200/clipshare/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	hub         *hub.Hub
	roomService *service.RoomService
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigins 为空时允许所有来源。
func NewWebSocketHandler(hub *hub.Hub, roomService *service.RoomService, allowedOrigins []string) *WebSocketHandler {
	if hub == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if roomService == nil {
		panic("RoomService cannot be nil for WebSocketHandler")
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || allowed["*"] {
				return true
			}
			origin := r.Header.Get("Origin")
			// 非浏览器客户端（如 notectl）不带 Origin
			return origin == "" || allowed[origin]
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		hub:         hub,
		roomService: roomService,
	}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/rooms/:code
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	identity := middleware.IdentityFrom(c) // 可能为 nil（匿名）
	logCtx := logrus.WithField("room_code", c.Param("code"))
	if identity != nil {
		logCtx = logCtx.WithField("user_id", identity.UserID)
	}

	// 1. 验证房间存在且未过期（升级前仍可返回 HTTP 错误）
	room, err := h.roomService.JoinRoom(c.Request.Context(), c.Param("code"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRoomCode):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room code"})
		case errors.Is(err, service.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		case errors.Is(err, service.ErrRoomExpired):
			c.JSON(http.StatusGone, gin.H{"error": "Room has expired"})
		default:
			logCtx.WithError(err).Error("WS Handler: Error checking room existence")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate room"})
		}
		return
	}

	// 2. 升级 HTTP 连接到 WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 方法会自动发送 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	// 3. 创建 Client 并向 Hub 注册
	client := hub.NewClient(h.hub, conn, room.Code, identity)
	if !h.hub.QueueMessage(hub.HubMessage{Type: hub.MessageRegister, RoomCode: room.Code, Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}

	// 4. 启动客户端的读写 goroutine
	client.Run()
	logCtx.Info("WS Handler: Client connected")
}
