package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/msea200/clipshare/internal/tasks"
)

// Sweeper 删除过期房间并返回删除数量，由 service.LifecycleService 实现
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// RoomSweepHandler 处理过期房间清理任务
type RoomSweepHandler struct {
	sweeper Sweeper
}

// NewRoomSweepHandler 创建 Handler 实例
func NewRoomSweepHandler(sweeper Sweeper) *RoomSweepHandler {
	if sweeper == nil {
		panic("Sweeper cannot be nil for RoomSweepHandler")
	}
	return &RoomSweepHandler{sweeper: sweeper}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *RoomSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
	})

	var payload tasks.RoomSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logCtx.WithError(err).Error("Failed to unmarshal task payload")
			return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	logCtx = logCtx.WithField("reason", payload.Reason)

	removed, err := h.sweeper.Sweep(ctx)
	if err != nil {
		// 不重试，等待下一次调度
		logCtx.WithError(err).Error("Room sweep failed")
		return fmt.Errorf("room sweep failed: %v: %w", err, asynq.SkipRetry)
	}

	logCtx.WithField("removed", removed).Info("Room sweep task processed successfully")
	return nil
}
