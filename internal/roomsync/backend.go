// Package roomsync 实现客户端的房间同步会话：
// 加入房间、订阅远端变更、防抖推送本地草稿，并避免远端更新被当作本地编辑回写。
package roomsync

import (
	"context"
	"errors"

	"github.com/msea200/clipshare/internal/domain"
)

var (
	ErrNotFound      = errors.New("roomsync: room not found")
	ErrExpired       = errors.New("roomsync: room has expired")
	ErrEmptyNote     = errors.New("roomsync: note text is empty")
	ErrNotJoined     = errors.New("roomsync: not joined to a room")
	ErrAlreadyJoined = errors.New("roomsync: session already joined or joining")
)

// Backend 是会话依赖的实时存储。
// 实现需要把房间不存在映射为 ErrNotFound，过期映射为 ErrExpired。
type Backend interface {
	// Join 校验房间存在且未过期，返回含笔记和草稿的快照
	Join(ctx context.Context, code string) (*domain.Room, error)
	// Subscribe 订阅房间的变更事件和连接状态
	Subscribe(ctx context.Context, code string) (Subscription, error)
	AddNote(ctx context.Context, code, text string) (*domain.Note, error)
	DeleteNote(ctx context.Context, code, noteID string) error
	SetDraft(ctx context.Context, code, text string) error
}

// Subscription 是一个房间的订阅句柄。Events 和 Connectivity 之间没有顺序保证。
type Subscription interface {
	Events() <-chan domain.RoomEvent
	// Connectivity 在连接建立或断开时推送当前状态
	Connectivity() <-chan bool
	Close() error
}
