package http

import (
	"net/http"

	"github.com/msea200/clipshare/internal/dto"
	"github.com/msea200/clipshare/internal/middleware"
	"github.com/msea200/clipshare/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoomHandler 封装了房间、笔记和草稿相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService}
}

// CreateRoom 处理创建新房间的请求，请求体可省略
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req dto.CreateRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logrus.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
			ErrorResponse(c, http.StatusBadRequest, "Invalid input: scheme must be 'random' or 'dated'")
			return
		}
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), req.Scheme)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, dto.NewRoomPayload(room))
}

// Today 返回当天共用的房间，不存在时创建
func (h *RoomHandler) Today(c *gin.Context) {
	room, created, err := h.roomService.GetOrCreateToday(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	SuccessResponse(c, status, dto.NewRoomPayload(room))
}

// JoinRoom 校验房间并返回快照
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	room, err := h.roomService.JoinRoom(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.NewRoomPayload(room))
}

// AddNote 保存一条笔记，登录用户会被记录为作者
func (h *RoomHandler) AddNote(c *gin.Context) {
	var req dto.NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: text is required")
		return
	}
	note, err := h.roomService.AddNote(c.Request.Context(), c.Param("code"), req.Text, middleware.IdentityFrom(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, note)
}

// DeleteNote 删除笔记，幂等
func (h *RoomHandler) DeleteNote(c *gin.Context) {
	if err := h.roomService.DeleteNote(c.Request.Context(), c.Param("code"), c.Param("id")); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetDraft 覆盖共享草稿
func (h *RoomHandler) SetDraft(c *gin.Context) {
	var req dto.DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input")
		return
	}
	if err := h.roomService.SetDraft(c.Request.Context(), c.Param("code"), req.Text); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
