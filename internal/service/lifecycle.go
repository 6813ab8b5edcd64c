package service

import (
	"context"
	"time"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/repository"

	"github.com/sirupsen/logrus"
)

// LifecycleService 负责房间的过期判断和定期清理。
type LifecycleService struct {
	roomRepo repository.RoomRepository
}

// NewLifecycleService 创建 LifecycleService 实例。
func NewLifecycleService(roomRepo repository.RoomRepository) *LifecycleService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for LifecycleService")
	}
	return &LifecycleService{roomRepo: roomRepo}
}

// IsExpired 非永久且 now 已超过 ExpiresAt 的房间视为过期。
func (s *LifecycleService) IsExpired(room *domain.Room, now time.Time) bool {
	return room.IsExpiredAt(now)
}

// Sweep 删除所有已过期的非永久房间，返回删除数量。
// 失败不重试，由下一次定时任务兜底。
func (s *LifecycleService) Sweep(ctx context.Context) (int, error) {
	now, err := s.roomRepo.ServerTime(ctx)
	if err != nil {
		logrus.WithError(err).Error("Sweep: failed to read server time")
		return 0, ErrInternalServer
	}

	rooms, err := s.roomRepo.List(ctx)
	if err != nil {
		logrus.WithError(err).Error("Sweep: failed to list rooms")
		return 0, ErrInternalServer
	}

	expired := make([]string, 0)
	for i := range rooms {
		if s.IsExpired(&rooms[i], now) {
			expired = append(expired, rooms[i].Code)
		}
	}
	if len(expired) == 0 {
		logrus.WithField("rooms_checked", len(rooms)).Debug("Sweep: nothing to remove")
		return 0, nil
	}

	if err := s.roomRepo.DeleteBatch(ctx, expired); err != nil {
		logrus.WithError(err).WithField("expired_count", len(expired)).Error("Sweep: batch delete failed")
		return 0, ErrInternalServer
	}

	logrus.WithFields(logrus.Fields{
		"rooms_checked": len(rooms),
		"rooms_removed": len(expired),
	}).Info("Sweep: expired rooms removed")
	return len(expired), nil
}
