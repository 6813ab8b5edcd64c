package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// ReformatSystemPrompt 是转发给 LLM 的固定系统提示
const ReformatSystemPrompt = `You are an expert at organizing schedules and notes.

Reorganize the user's note according to these rules:

1. Dates and times: state every date and time explicitly (e.g. 2024-01-15 14:00).
2. Categories: group items as work, personal, important or urgent.
3. Priority: mark important items with a star.
4. Checklists: turn to-do items into "- [ ]" lines.
5. Brevity: drop filler and keep only the essentials.
6. Structure: use headings, subheadings and lists so it reads easily.

Analyze the note and return a clean version that follows these rules.`

// Completer 是 LLM 补全能力的抽象，由 infra/llm 实现。
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// httpStatusError 由上游客户端返回，携带上游的 HTTP 状态码
type httpStatusError interface {
	error
	HTTPStatus() int
}

// ReformatService 将笔记文本转发给 LLM 并返回整理后的结果。
type ReformatService struct {
	completer Completer // 为 nil 表示未配置 API key
}

// NewReformatService 创建 ReformatService 实例。completer 可以为 nil，
// 此时每次调用都返回 ErrUnconfigured。
func NewReformatService(completer Completer) *ReformatService {
	return &ReformatService{completer: completer}
}

// Configured 报告是否配置了上游。
func (s *ReformatService) Configured() bool { return s.completer != nil }

// Reformat 使用固定系统提示整理 prompt。
func (s *ReformatService) Reformat(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if s.completer == nil {
		logrus.Error("Reformat: upstream API key not configured")
		return "", ErrUnconfigured
	}

	logCtx := logrus.WithField("prompt_length", len(prompt))
	result, err := s.completer.Complete(ctx, ReformatSystemPrompt, prompt)
	if err != nil {
		var statusErr httpStatusError
		if errors.As(err, &statusErr) {
			logCtx.WithError(err).Warn("Reformat: upstream returned an error status")
			return "", &UpstreamError{StatusCode: statusErr.HTTPStatus(), Message: statusErr.Error()}
		}
		logCtx.WithError(err).Error("Reformat: upstream call failed")
		return "", ErrInternalServer
	}
	logCtx.Debug("Reformat completed")
	return result, nil
}
