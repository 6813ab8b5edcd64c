package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	// 导入 Redis 客户端库
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/repository"
)

// 房间 Hash 中的字段名
const (
	fieldCode        = "code"
	fieldCreatedAt   = "created_at"
	fieldLastUpdated = "last_updated"
	fieldExpiresAt   = "expires_at"
	fieldPermanent   = "permanent"
	fieldDraft       = "draft"
	fieldNotesRev    = "notes_rev"
	fieldDraftRev    = "draft_rev"
)

const (
	// 乐观事务 (WATCH) 冲突时的最大重试次数
	maxTxRetries = 5
	// 日期序号计数器的过期时间，覆盖跨时区的一整天
	sequenceTTL = 48 * time.Hour
)

// RedisRoomRepository 是 RoomRepository 接口的 Redis 实现
type RedisRoomRepository struct {
	client    *redis.Client // 依赖 Redis 客户端
	keyPrefix string        // Redis key 的前缀
	bus       *RedisEventBus
}

// NewRedisRoomRepository 创建 RedisRoomRepository 实例
func NewRedisRoomRepository(client *redis.Client, keyPrefix string) *RedisRoomRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisRoomRepository")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisRoomRepository{
		client:    client,
		keyPrefix: keyPrefix,
		bus:       NewRedisEventBus(client, keyPrefix),
	}
}

// Bus 返回仓库使用的事件总线，供 Hub 订阅。
func (r *RedisRoomRepository) Bus() *RedisEventBus { return r.bus }

// --- Key Generation Helpers ---
func (r *RedisRoomRepository) roomKey(code string) string {
	return fmt.Sprintf("%sroom:%s", r.keyPrefix, code)
}

func (r *RedisRoomRepository) notesKey(code string) string {
	return fmt.Sprintf("%sroom:%s:notes", r.keyPrefix, code)
}

func (r *RedisRoomRepository) roomsKey() string {
	return r.keyPrefix + "rooms"
}

func (r *RedisRoomRepository) sequenceKey(dayPrefix string) string {
	return fmt.Sprintf("%sseq:%s", r.keyPrefix, dayPrefix)
}

// --- RoomRepository Interface Implementation ---

// ServerTime 使用 Redis TIME 命令获取服务器时间
func (r *RedisRoomRepository) ServerTime(ctx context.Context) (time.Time, error) {
	now, err := r.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: failed to read server time: %w", err)
	}
	return now, nil
}

// Create 条件创建房间：房间码已存在或并发创建时返回 repository.ErrDuplicateEntry
func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	key := r.roomKey(room.Code)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis: failed to check room %s: %w", room.Code, err)
		}
		if n > 0 {
			return repository.ErrDuplicateEntry
		}
		now, err := tx.Time(ctx).Result()
		if err != nil {
			return fmt.Errorf("redis: failed to read server time: %w", err)
		}
		room.CreatedAt = now.UnixMilli()
		room.LastUpdated = room.CreatedAt
		room.Notes = map[string]domain.Note{}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]interface{}{
				fieldCode:        room.Code,
				fieldCreatedAt:   room.CreatedAt,
				fieldLastUpdated: room.LastUpdated,
				fieldExpiresAt:   room.ExpiresAt,
				fieldPermanent:   boolToString(room.Permanent),
				fieldDraft:       room.DraftText,
				fieldNotesRev:    0,
				fieldDraftRev:    0,
			})
			pipe.SAdd(ctx, r.roomsKey(), room.Code)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// 其他客户端在同一时刻创建了同一个房间码
		return repository.ErrDuplicateEntry
	}
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return err
		}
		return fmt.Errorf("redis: failed to create room %s: %w", room.Code, err)
	}
	return nil
}

// Get 读取房间及其笔记
func (r *RedisRoomRepository) Get(ctx context.Context, code string) (*domain.Room, error) {
	var roomCmd, notesCmd *redis.StringStringMapCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		roomCmd = pipe.HGetAll(ctx, r.roomKey(code))
		notesCmd = pipe.HGetAll(ctx, r.notesKey(code))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get room %s: %w", code, err)
	}
	fields := roomCmd.Val()
	if len(fields) == 0 {
		return nil, repository.ErrRoomNotFound
	}
	room, err := parseRoom(code, fields)
	if err != nil {
		return nil, err
	}
	room.Notes = parseNotes(code, notesCmd.Val())
	return room, nil
}

// List 返回所有房间的元数据（不含笔记）
func (r *RedisRoomRepository) List(ctx context.Context) ([]domain.Room, error) {
	codes, err := r.client.SMembers(ctx, r.roomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list room codes: %w", err)
	}
	rooms := make([]domain.Room, 0, len(codes))
	if len(codes) == 0 {
		return rooms, nil
	}

	cmds := make(map[string]*redis.StringStringMapCmd, len(codes))
	pipe := r.client.Pipeline()
	for _, code := range codes {
		cmds[code] = pipe.HGetAll(ctx, r.roomKey(code))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: failed to load rooms: %w", err)
	}

	for _, code := range codes {
		fields := cmds[code].Val()
		if len(fields) == 0 {
			// 集合中残留的房间码，忽略
			continue
		}
		room, err := parseRoom(code, fields)
		if err != nil {
			logrus.WithError(err).WithField("room_code", code).Warn("redis: skipping unreadable room")
			continue
		}
		rooms = append(rooms, *room)
	}
	return rooms, nil
}

// AddNote 追加一条笔记并发布笔记列表
func (r *RedisRoomRepository) AddNote(ctx context.Context, code string, text string, author *domain.Author) (*domain.Note, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to generate note id: %w", err)
	}
	note := &domain.Note{ID: id.String(), Text: text, Author: author}

	err = r.mutateRoom(ctx, code, func(tx *redis.Tx, pipe redis.Pipeliner, now time.Time) error {
		note.CreatedAt = now.UnixMilli()
		payload, _ := json.Marshal(note) // Note 只包含可序列化字段
		pipe.HSet(ctx, r.notesKey(code), note.ID, payload)
		pipe.HSet(ctx, r.roomKey(code), fieldLastUpdated, note.CreatedAt)
		pipe.HIncrBy(ctx, r.roomKey(code), fieldNotesRev, 1)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.publishNotes(ctx, code)
	return note, nil
}

// DeleteNote 删除笔记，笔记不存在时不报错。
// 存在性检查和修订号递增都在同一个 WATCH 事务里，房间被并发删除时不会留下残缺的房间键。
func (r *RedisRoomRepository) DeleteNote(ctx context.Context, code string, noteID string) error {
	removed := false
	err := r.mutateRoom(ctx, code, func(tx *redis.Tx, pipe redis.Pipeliner, now time.Time) error {
		exists, err := tx.HExists(ctx, r.notesKey(code), noteID).Result()
		if err != nil {
			return err
		}
		removed = exists
		if !exists {
			// 笔记集合没有变化，不递增修订号也不广播
			return nil
		}
		pipe.HDel(ctx, r.notesKey(code), noteID)
		pipe.HSet(ctx, r.roomKey(code), fieldLastUpdated, now.UnixMilli())
		pipe.HIncrBy(ctx, r.roomKey(code), fieldNotesRev, 1)
		return nil
	}, r.notesKey(code))
	if err != nil {
		return err
	}
	if removed {
		r.publishNotes(ctx, code)
	}
	return nil
}

// SetDraft 覆盖草稿（最后写入者胜出）
func (r *RedisRoomRepository) SetDraft(ctx context.Context, code string, text string) error {
	var revCmd *redis.IntCmd
	err := r.mutateRoom(ctx, code, func(tx *redis.Tx, pipe redis.Pipeliner, now time.Time) error {
		pipe.HSet(ctx, r.roomKey(code), fieldDraft, text, fieldLastUpdated, now.UnixMilli())
		revCmd = pipe.HIncrBy(ctx, r.roomKey(code), fieldDraftRev, 1)
		return nil
	})
	if err != nil {
		return err
	}
	r.publish(ctx, domain.RoomEvent{Type: domain.EventDraft, Code: code, Rev: revCmd.Val(), Text: text})
	return nil
}

// SetPermanent 设置永久标记，不改动 expires_at
func (r *RedisRoomRepository) SetPermanent(ctx context.Context, code string, permanent bool) error {
	err := r.mutateRoom(ctx, code, func(tx *redis.Tx, pipe redis.Pipeliner, now time.Time) error {
		pipe.HSet(ctx, r.roomKey(code), fieldPermanent, boolToString(permanent))
		return nil
	})
	if err != nil {
		return err
	}
	r.publish(ctx, domain.RoomEvent{Type: domain.EventPermanent, Code: code, Permanent: permanent})
	return nil
}

// Delete 删除单个房间，房间不存在时返回 ErrRoomNotFound
func (r *RedisRoomRepository) Delete(ctx context.Context, code string) error {
	var delCmd *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, r.roomKey(code))
		pipe.Del(ctx, r.notesKey(code))
		pipe.SRem(ctx, r.roomsKey(), code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to delete room %s: %w", code, err)
	}
	if delCmd.Val() == 0 {
		return repository.ErrRoomNotFound
	}
	r.publish(ctx, domain.RoomEvent{Type: domain.EventRoomDeleted, Code: code})
	return nil
}

// DeleteBatch 在一个 MULTI/EXEC 事务中删除多个房间
func (r *RedisRoomRepository) DeleteBatch(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, 0, len(codes))
		for _, code := range codes {
			pipe.Del(ctx, r.roomKey(code), r.notesKey(code))
			members = append(members, code)
		}
		pipe.SRem(ctx, r.roomsKey(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to delete %d rooms: %w", len(codes), err)
	}
	for _, code := range codes {
		r.publish(ctx, domain.RoomEvent{Type: domain.EventRoomDeleted, Code: code})
	}
	return nil
}

// NextDailySequence 原子递增某一天的序号计数器
func (r *RedisRoomRepository) NextDailySequence(ctx context.Context, dayPrefix string) (int64, error) {
	key := r.sequenceKey(dayPrefix)
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, sequenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: failed to increment daily sequence %s: %w", key, err)
	}
	return incrCmd.Val(), nil
}

// --- 私有辅助函数 ---

// mutateRoom 在 WATCH 事务中修改一个已存在的房间，extraWatch 是需要一并监视的键。
// 房间不存在时返回 ErrRoomNotFound，从而不会“复活”已被清理的房间。
// fn 可以通过 tx 立即读取，写操作必须放进 pipe。
func (r *RedisRoomRepository) mutateRoom(ctx context.Context, code string, fn func(tx *redis.Tx, pipe redis.Pipeliner, now time.Time) error, extraWatch ...string) error {
	key := r.roomKey(code)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrRoomNotFound
		}
		now, err := tx.Time(ctx).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return fn(tx, pipe, now)
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, append([]string{key}, extraWatch...)...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// 房间在事务期间被修改，重试
			continue
		}
		if errors.Is(err, repository.ErrRoomNotFound) {
			return err
		}
		return fmt.Errorf("redis: failed to update room %s: %w", code, err)
	}
	return fmt.Errorf("redis: update of room %s kept conflicting after %d attempts", code, maxTxRetries)
}

// publishNotes 在同一个 MULTI 中读取笔记列表和修订号，然后广播
func (r *RedisRoomRepository) publishNotes(ctx context.Context, code string) {
	var notesCmd *redis.StringStringMapCmd
	var revCmd *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		notesCmd = pipe.HGetAll(ctx, r.notesKey(code))
		revCmd = pipe.HGet(ctx, r.roomKey(code), fieldNotesRev)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		logrus.WithError(err).WithField("room_code", code).Error("redis: failed to read notes for publish")
		return
	}
	rev, _ := strconv.ParseInt(revCmd.Val(), 10, 64)
	notes := domain.SortNotes(parseNotes(code, notesCmd.Val()))
	r.publish(ctx, domain.RoomEvent{Type: domain.EventNotes, Code: code, Rev: rev, Notes: notes})
}

// publish 发布失败只记录日志，变更本身已经成功
func (r *RedisRoomRepository) publish(ctx context.Context, event domain.RoomEvent) {
	if err := r.bus.Publish(ctx, event); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_code":  event.Code,
			"event_type": event.Type,
		}).WithError(err).Error("Redis Publish failed")
	}
}

func parseRoom(code string, fields map[string]string) (*domain.Room, error) {
	room := &domain.Room{
		Code:      code,
		DraftText: fields[fieldDraft],
		Permanent: fields[fieldPermanent] == "1",
	}
	ints := []struct {
		name string
		dst  *int64
	}{
		{fieldCreatedAt, &room.CreatedAt},
		{fieldLastUpdated, &room.LastUpdated},
		{fieldExpiresAt, &room.ExpiresAt},
		{fieldNotesRev, &room.NotesRev},
		{fieldDraftRev, &room.DraftRev},
	}
	for _, f := range ints {
		raw, ok := fields[f.name]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: failed to parse %s '%s' for room %s: %w", f.name, raw, code, err)
		}
		*f.dst = v
	}
	return room, nil
}

func parseNotes(code string, raw map[string]string) map[string]domain.Note {
	notes := make(map[string]domain.Note, len(raw))
	for id, payload := range raw {
		var note domain.Note
		if err := json.Unmarshal([]byte(payload), &note); err != nil {
			logrus.Warnf("redis: failed to unmarshal note %s in room %s: %v", id, code, err)
			continue
		}
		note.ID = id
		notes[id] = note
	}
	return notes
}

func boolToString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
