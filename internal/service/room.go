package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/repository"
	"github.com/msea200/clipshare/internal/roomcode"

	"github.com/sirupsen/logrus"
)

// 房间码生成方式
const (
	SchemeRandom = "random"
	SchemeDated  = "dated"
)

const (
	// 随机码冲突时的最大尝试次数
	maxCodeAttempts = 10
	// 日期序号计数器丢失后与已有房间冲突时的最大尝试次数
	maxDatedAttempts = 5
)

// RoomService 负责房间创建、加入以及笔记和草稿的写入。
type RoomService struct {
	roomRepo  repository.RoomRepository
	lifecycle *LifecycleService
	expiry    time.Duration  // 新房间的保留时长
	location  *time.Location // 日期房间码使用的时区
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(roomRepo repository.RoomRepository, lifecycle *LifecycleService, expiry time.Duration, location *time.Location) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if lifecycle == nil {
		panic("LifecycleService cannot be nil for RoomService")
	}
	if expiry <= 0 {
		expiry = domain.DefaultRoomExpiry
	}
	if location == nil {
		location = time.UTC
	}
	return &RoomService{
		roomRepo:  roomRepo,
		lifecycle: lifecycle,
		expiry:    expiry,
		location:  location,
	}
}

// CreateRoom 按指定方式生成房间码并创建房间。空 scheme 视为 random。
func (s *RoomService) CreateRoom(ctx context.Context, scheme string) (*domain.Room, error) {
	switch scheme {
	case "", SchemeRandom:
		return s.createRandom(ctx)
	case SchemeDated:
		return s.createDated(ctx)
	default:
		logrus.WithField("scheme", scheme).Warn("CreateRoom: unknown code scheme")
		return nil, ErrInvalidMessage
	}
}

// GetOrCreateToday 返回当天共用的房间，不存在（或已过期被清理）时创建。
// 第二个返回值表示房间是否为本次新建。
func (s *RoomService) GetOrCreateToday(ctx context.Context) (*domain.Room, bool, error) {
	now, err := s.roomRepo.ServerTime(ctx)
	if err != nil {
		logrus.WithError(err).Error("GetOrCreateToday: failed to read server time")
		return nil, false, ErrInternalServer
	}
	code := roomcode.Today(now.In(s.location))
	logCtx := logrus.WithField("room_code", code)

	// 最多两轮：第二轮处理“并发创建”导致的冲突
	for attempt := 0; attempt < 2; attempt++ {
		room, err := s.JoinRoom(ctx, code)
		if err == nil {
			return room, false, nil
		}
		if !errors.Is(err, ErrRoomNotFound) && !errors.Is(err, ErrRoomExpired) {
			return nil, false, err
		}

		room = s.newRoom(code, now)
		err = s.roomRepo.Create(ctx, room)
		if err == nil {
			logCtx.Info("Today's room created")
			return room, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Error("GetOrCreateToday: failed to create room")
			return nil, false, ErrInternalServer
		}
		logCtx.Debug("Today's room was created concurrently, joining it")
	}
	return nil, false, ErrInternalServer
}

// JoinRoom 校验房间码、确认房间存在且未过期，返回房间快照。
// 已过期的房间会在这里被立即删除。
func (s *RoomService) JoinRoom(ctx context.Context, rawCode string) (*domain.Room, error) {
	code, err := roomcode.Parse(rawCode)
	if err != nil {
		return nil, ErrInvalidRoomCode
	}
	logCtx := logrus.WithField("room_code", code)

	room, err := s.roomRepo.Get(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Debug("JoinRoom: room not found")
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("JoinRoom: repository error")
		return nil, ErrInternalServer
	}

	now, err := s.roomRepo.ServerTime(ctx)
	if err != nil {
		logCtx.WithError(err).Error("JoinRoom: failed to read server time")
		return nil, ErrInternalServer
	}
	if s.lifecycle.IsExpired(room, now) {
		if err := s.roomRepo.Delete(ctx, code); err != nil && !errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.WithError(err).Warn("JoinRoom: failed to delete expired room")
		}
		logCtx.Info("JoinRoom: room expired and was removed")
		return nil, ErrRoomExpired
	}

	if room.Notes == nil {
		room.Notes = map[string]domain.Note{}
	}
	return room, nil
}

// AddNote 将文本保存为一条新笔记。作者信息仅在已登录时写入。
func (s *RoomService) AddNote(ctx context.Context, rawCode, text string, identity *domain.Identity) (*domain.Note, error) {
	code, err := roomcode.Parse(rawCode)
	if err != nil {
		return nil, ErrInvalidRoomCode
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyNote
	}
	note, err := s.roomRepo.AddNote(ctx, code, text, identity.Author())
	if err != nil {
		return nil, s.logRepoError(err, code, "AddNote")
	}
	return note, nil
}

// DeleteNote 删除笔记，笔记不存在时视为成功。
func (s *RoomService) DeleteNote(ctx context.Context, rawCode, noteID string) error {
	code, err := roomcode.Parse(rawCode)
	if err != nil {
		return ErrInvalidRoomCode
	}
	if noteID == "" {
		return ErrInvalidMessage
	}
	if err := s.roomRepo.DeleteNote(ctx, code, noteID); err != nil {
		return s.logRepoError(err, code, "DeleteNote")
	}
	return nil
}

// SetDraft 覆盖房间的共享草稿。
func (s *RoomService) SetDraft(ctx context.Context, rawCode, text string) error {
	code, err := roomcode.Parse(rawCode)
	if err != nil {
		return ErrInvalidRoomCode
	}
	if err := s.roomRepo.SetDraft(ctx, code, text); err != nil {
		return s.logRepoError(err, code, "SetDraft")
	}
	return nil
}

// --- 私有辅助函数 ---

func (s *RoomService) createRandom(ctx context.Context) (*domain.Room, error) {
	now, err := s.roomRepo.ServerTime(ctx)
	if err != nil {
		logrus.WithError(err).Error("CreateRoom: failed to read server time")
		return nil, ErrInternalServer
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := roomcode.Random()
		if err != nil {
			logrus.WithError(err).Error("CreateRoom: failed to generate room code")
			return nil, ErrInternalServer
		}
		room := s.newRoom(code, now)
		err = s.roomRepo.Create(ctx, room)
		if err == nil {
			logrus.WithField("room_code", code).Info("Room created successfully")
			return room, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEntry) {
			logrus.WithError(err).WithField("room_code", code).Error("CreateRoom: failed to save room")
			return nil, ErrInternalServer
		}
		// 房间码已存在，重试
		logrus.WithField("room_code", code).Warnf("Generated room code already exists, retrying (attempt %d)...", attempt+1)
	}
	logrus.Errorf("Failed to generate a unique room code after %d attempts", maxCodeAttempts)
	return nil, ErrCodesExhausted
}

func (s *RoomService) createDated(ctx context.Context) (*domain.Room, error) {
	now, err := s.roomRepo.ServerTime(ctx)
	if err != nil {
		logrus.WithError(err).Error("CreateRoom: failed to read server time")
		return nil, ErrInternalServer
	}
	day := now.In(s.location)
	prefix := roomcode.DayPrefix(day)

	for attempt := 0; attempt < maxDatedAttempts; attempt++ {
		seq, err := s.roomRepo.NextDailySequence(ctx, prefix)
		if err != nil {
			logrus.WithError(err).WithField("day", prefix).Error("CreateRoom: failed to allocate daily sequence")
			return nil, ErrInternalServer
		}
		code, err := roomcode.Dated(day, seq)
		if err != nil {
			if errors.Is(err, roomcode.ErrSequenceExceeded) {
				logrus.WithField("day", prefix).Warn("CreateRoom: daily sequence exhausted")
				return nil, ErrCodesExhausted
			}
			return nil, ErrInternalServer
		}
		room := s.newRoom(code, now)
		err = s.roomRepo.Create(ctx, room)
		if err == nil {
			logrus.WithField("room_code", code).Info("Dated room created successfully")
			return room, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEntry) {
			logrus.WithError(err).WithField("room_code", code).Error("CreateRoom: failed to save room")
			return nil, ErrInternalServer
		}
		logrus.WithField("room_code", code).Warn("Dated room code already taken, allocating next sequence")
	}
	return nil, ErrCodesExhausted
}

func (s *RoomService) newRoom(code string, now time.Time) *domain.Room {
	return &domain.Room{
		Code:      code,
		ExpiresAt: now.Add(s.expiry).UnixMilli(),
		Notes:     map[string]domain.Note{},
	}
}

func (s *RoomService) logRepoError(err error, code, operation string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "operation": operation})
	if errors.Is(err, repository.ErrRoomNotFound) {
		logCtx.Debug("Room not found")
		return ErrRoomNotFound
	}
	logCtx.WithError(err).Error("Repository error")
	return mapRepoError(err)
}
