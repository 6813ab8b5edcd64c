package repository

import (
	"context"
	"time"

	"github.com/msea200/clipshare/internal/domain"
)

// RoomRepository 定义了房间记录的存储和检索操作，通常由 Redis 实现。
// 每个成功的变更都会在房间频道上发布一条 domain.RoomEvent。
type RoomRepository interface {
	// ServerTime 返回存储端的服务器时钟。
	ServerTime(ctx context.Context) (time.Time, error)

	// Create 条件创建房间。CreatedAt / LastUpdated 由存储端写入服务器时间。
	// 如果房间码已被占用，返回 ErrDuplicateEntry。
	Create(ctx context.Context, room *domain.Room) error

	// Get 根据房间码读取房间（含笔记和草稿）。
	// 如果房间不存在，返回 ErrRoomNotFound。
	Get(ctx context.Context, code string) (*domain.Room, error)

	// List 返回所有房间（不含笔记内容），不分页。
	List(ctx context.Context) ([]domain.Room, error)

	// AddNote 追加一条笔记，ID 和时间戳由存储端生成。不会清空草稿。
	AddNote(ctx context.Context, code string, text string, author *domain.Author) (*domain.Note, error)

	// DeleteNote 删除笔记，幂等：ID 不存在不视为错误。
	DeleteNote(ctx context.Context, code string, noteID string) error

	// SetDraft 无条件覆盖草稿。
	SetDraft(ctx context.Context, code string, text string) error

	// SetPermanent 设置永久标记，不修改 ExpiresAt。
	SetPermanent(ctx context.Context, code string, permanent bool) error

	// Delete 删除单个房间。
	Delete(ctx context.Context, code string) error

	// DeleteBatch 在一个事务中删除多个房间。
	DeleteBatch(ctx context.Context, codes []string) error

	// NextDailySequence 原子地递增并返回某一天的房间序号。
	NextDailySequence(ctx context.Context, dayPrefix string) (int64, error)
}

// RoomSubscription 是一个房间频道的订阅句柄。
type RoomSubscription interface {
	// Events 返回事件通道，订阅关闭后通道关闭。
	Events() <-chan domain.RoomEvent
	// Close 取消订阅。
	Close() error
}

// RoomEventBus 定义了房间变更事件的发布与订阅。
type RoomEventBus interface {
	// Publish 在房间频道上发布事件。
	Publish(ctx context.Context, event domain.RoomEvent) error
	// Subscribe 订阅房间频道。
	Subscribe(ctx context.Context, code string) (RoomSubscription, error)
}
