package http

import (
	"errors"
	"net/http"

	"github.com/msea200/clipshare/internal/dto"
	"github.com/msea200/clipshare/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ReformatHandler 是 LLM 重排版代理的 HTTP 入口
type ReformatHandler struct {
	reformatService *service.ReformatService
}

// NewReformatHandler 创建 ReformatHandler 实例
func NewReformatHandler(reformatService *service.ReformatService) *ReformatHandler {
	if reformatService == nil {
		panic("ReformatService cannot be nil for ReformatHandler")
	}
	return &ReformatHandler{reformatService: reformatService}
}

// Reformat POST /api/reformat {prompt} -> {success, result | error}
func (h *ReformatHandler) Reformat(c *gin.Context) {
	var req dto.ReformatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ReformatResponse{Success: false, Error: "Request body must be JSON with a prompt"})
		return
	}

	result, err := h.reformatService.Reformat(c.Request.Context(), req.Prompt)
	if err != nil {
		status := http.StatusInternalServerError
		var upstream *service.UpstreamError
		switch {
		case errors.Is(err, service.ErrEmptyPrompt):
			status = http.StatusBadRequest
		case errors.As(err, &upstream):
			status = upstream.StatusCode
		case errors.Is(err, service.ErrUnconfigured):
			status = http.StatusInternalServerError
		default:
			logrus.WithError(err).Error("Handler.Reformat: unexpected failure")
		}
		c.JSON(status, dto.ReformatResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.ReformatResponse{Success: true, Result: result})
}
