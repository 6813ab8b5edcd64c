package service

import (
	"context"
	"errors"
	"sort"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/repository"
	"github.com/msea200/clipshare/internal/roomcode"

	"github.com/sirupsen/logrus"
)

// 管理列表的过滤类型
const (
	FilterNormal    = "normal"
	FilterPermanent = "permanent"
)

// AdminRoomList 是管理列表的结果：选中分区的房间以及两个分区的计数。
type AdminRoomList struct {
	Rooms          []domain.Room `json:"rooms"`
	NormalCount    int           `json:"normalCount"`
	PermanentCount int           `json:"permanentCount"`
}

// AdminService 提供管理员的房间目录操作。调用方必须具有 admin 角色。
type AdminService struct {
	roomRepo repository.RoomRepository
}

// NewAdminService 创建 AdminService 实例。
func NewAdminService(roomRepo repository.RoomRepository) *AdminService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for AdminService")
	}
	return &AdminService{roomRepo: roomRepo}
}

// ListFiltered 返回指定分区的房间（按创建时间倒序）和两个分区的数量。
func (s *AdminService) ListFiltered(ctx context.Context, caller *domain.Identity, kind string) (*AdminRoomList, error) {
	if err := requireAdmin(caller, "ListFiltered"); err != nil {
		return nil, err
	}
	if kind == "" {
		kind = FilterNormal
	}
	if kind != FilterNormal && kind != FilterPermanent {
		return nil, ErrInvalidFilter
	}

	rooms, err := s.roomRepo.List(ctx)
	if err != nil {
		logrus.WithError(err).Error("ListFiltered: failed to list rooms")
		return nil, ErrInternalServer
	}

	result := &AdminRoomList{Rooms: make([]domain.Room, 0)}
	for _, room := range rooms {
		if room.Permanent {
			result.PermanentCount++
		} else {
			result.NormalCount++
		}
		if room.Permanent == (kind == FilterPermanent) {
			result.Rooms = append(result.Rooms, room)
		}
	}
	sort.Slice(result.Rooms, func(i, j int) bool {
		return result.Rooms[i].CreatedAt > result.Rooms[j].CreatedAt
	})
	return result, nil
}

// Toggle 翻转房间的永久标记并返回新值。
func (s *AdminService) Toggle(ctx context.Context, caller *domain.Identity, rawCode string) (bool, error) {
	if err := requireAdmin(caller, "Toggle"); err != nil {
		return false, err
	}
	code, err := roomcode.Parse(rawCode)
	if err != nil {
		return false, ErrInvalidRoomCode
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": caller.UserID})

	room, err := s.roomRepo.Get(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return false, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Toggle: failed to load room")
		return false, ErrInternalServer
	}

	permanent := !room.Permanent
	if err := s.roomRepo.SetPermanent(ctx, code, permanent); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return false, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Toggle: failed to update room")
		return false, ErrInternalServer
	}
	logCtx.WithField("permanent", permanent).Info("Room permanence toggled")
	return permanent, nil
}

// Delete 删除房间，已加入的会话会收到 room_deleted 事件。
func (s *AdminService) Delete(ctx context.Context, caller *domain.Identity, rawCode string) error {
	if err := requireAdmin(caller, "Delete"); err != nil {
		return err
	}
	code, err := roomcode.Parse(rawCode)
	if err != nil {
		return ErrInvalidRoomCode
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "user_id": caller.UserID})

	if err := s.roomRepo.Delete(ctx, code); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Delete: failed to delete room")
		return ErrInternalServer
	}
	logCtx.Info("Room deleted by admin")
	return nil
}

func requireAdmin(caller *domain.Identity, operation string) error {
	if !caller.IsAdmin() {
		logrus.WithField("operation", operation).Warn("Admin operation rejected for non-admin caller")
		return ErrUnauthorized
	}
	return nil
}
