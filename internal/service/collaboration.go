package service

import (
	"context"
	"encoding/json"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/dto"

	"github.com/sirupsen/logrus"
)

// CollaborationService 处理 WebSocket 连接上收到的实时写操作。
// 写入结果不直接返回给 Hub，而是经由存储端的房间频道广播给所有订阅者（包括发送者）。
type CollaborationService struct {
	roomService *RoomService
}

// NewCollaborationService 创建 CollaborationService 实例。
func NewCollaborationService(roomService *RoomService) *CollaborationService {
	if roomService == nil {
		panic("RoomService cannot be nil for CollaborationService")
	}
	return &CollaborationService{roomService: roomService}
}

// Snapshot 返回房间的当前状态，用于新连接的初始同步。
func (s *CollaborationService) Snapshot(ctx context.Context, code string) (*domain.Room, error) {
	return s.roomService.JoinRoom(ctx, code)
}

// ProcessIncomingMessage 解析并执行客户端发送的一条消息。
func (s *CollaborationService) ProcessIncomingMessage(ctx context.Context, code string, identity *domain.Identity, raw []byte) error {
	logCtx := logrus.WithField("room_code", code)
	if identity != nil {
		logCtx = logCtx.WithField("user_id", identity.UserID)
	}

	// 1. 解析输入数据
	var msg dto.IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logCtx.WithError(err).Warn("Failed to unmarshal message from client")
		return ErrInvalidMessage
	}
	logCtx = logCtx.WithField("message_type", msg.Type)

	// 2. 分发到对应的房间操作
	var err error
	switch msg.Type {
	case dto.MessageDraft:
		err = s.roomService.SetDraft(ctx, code, msg.Text)
	case dto.MessageAddNote:
		_, err = s.roomService.AddNote(ctx, code, msg.Text, identity)
	case dto.MessageDeleteNote:
		err = s.roomService.DeleteNote(ctx, code, msg.NoteID)
	default:
		logCtx.Warn("Unknown message type from client")
		return ErrInvalidMessage
	}
	if err != nil {
		logCtx.WithError(err).Debug("Client message rejected")
		return err
	}
	logCtx.Debug("Client message applied")
	return nil
}
