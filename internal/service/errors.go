package service

import (
	"errors"
	"fmt"

	"github.com/msea200/clipshare/internal/repository"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomExpired          = errors.New("room has expired")
	ErrInvalidRoomCode      = errors.New("invalid room code")
	ErrEmptyNote            = errors.New("note text is empty")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: username or email already exists")
	ErrUnauthorized         = errors.New("admin role required")
	ErrUnconfigured         = errors.New("reformat upstream is not configured")
	ErrUpstreamFailure      = errors.New("reformat upstream request failed")
	ErrEmptyPrompt          = errors.New("prompt is required")
	ErrInternalServer       = errors.New("internal server error")
	ErrInvalidMessage       = errors.New("invalid message data")
	ErrInvalidFilter        = errors.New("room filter must be 'normal' or 'permanent'")
	ErrCodesExhausted       = errors.New("no room code available, try again later")
)

// UpstreamError 携带上游 LLM 服务返回的 HTTP 状态码，
// errors.Is(err, ErrUpstreamFailure) 对它成立。
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamFailure }

// mapRepoError 将仓库层的错误映射到服务层定义的错误。
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRoomNotFound
	}
	// 默认返回内部服务器错误
	return ErrInternalServer
}
