package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeRoomSweep = "room:sweep" // 过期房间清理任务类型
)

// 清理任务的触发来源
const (
	SweepReasonSchedule = "schedule"
	SweepReasonStartup  = "startup"
)

// RoomSweepPayload 定义了清理任务的数据结构
type RoomSweepPayload struct {
	Reason string `json:"reason"`
}

// NewRoomSweepTask 创建一个新的清理任务。
// 清理失败不重试，等待下一次调度。Unique 防止同一时间窗口内重复入队。
func NewRoomSweepTask(reason string, uniqueFor time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomSweepPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.MaxRetry(0), asynq.Queue("default")}
	if uniqueFor > 0 {
		opts = append(opts, asynq.Unique(uniqueFor))
	}
	return asynq.NewTask(TypeRoomSweep, payload, opts...), nil
}
