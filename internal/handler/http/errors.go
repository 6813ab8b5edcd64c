package http

import (
	"errors"
	"net/http"

	"github.com/msea200/clipshare/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HandleServiceError 将服务层错误映射为 HTTP 状态码和错误响应
func HandleServiceError(c *gin.Context, err error) {
	var upstream *service.UpstreamError
	switch {
	case errors.Is(err, service.ErrAuthenticationFailed):
		ErrorResponse(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrRegistrationFailed),
		errors.Is(err, service.ErrInvalidRoomCode),
		errors.Is(err, service.ErrEmptyNote),
		errors.Is(err, service.ErrEmptyPrompt),
		errors.Is(err, service.ErrInvalidFilter),
		errors.Is(err, service.ErrInvalidMessage):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrUserNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRoomExpired):
		ErrorResponse(c, http.StatusGone, err.Error())
	case errors.Is(err, service.ErrCodesExhausted):
		ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &upstream):
		// 上游状态码原样透传
		ErrorResponse(c, upstream.StatusCode, err.Error())
	case errors.Is(err, service.ErrUnconfigured):
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
