package redisstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/repository"
)

func setupRepo(t *testing.T) (*RedisRoomRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRoomRepository(client, "test:"), mr
}

func newRoom(code string) *domain.Room {
	return &domain.Room{
		Code:      code,
		ExpiresAt: time.Now().Add(domain.DefaultRoomExpiry).UnixMilli(),
	}
}

func TestCreateAndGet(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	room := newRoom("ABC-123")
	require.NoError(t, repo.Create(ctx, room))
	assert.NotZero(t, room.CreatedAt)
	assert.Equal(t, room.CreatedAt, room.LastUpdated)

	got, err := repo.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", got.Code)
	assert.Equal(t, room.ExpiresAt, got.ExpiresAt)
	assert.False(t, got.Permanent)
	assert.Empty(t, got.Notes)
	assert.Equal(t, "", got.DraftText)
}

func TestCreate_DuplicateCode(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRoom("ABC-123")))
	err := repo.Create(ctx, newRoom("ABC-123"))
	assert.ErrorIs(t, err, repository.ErrDuplicateEntry)
}

func TestGet_NotFound(t *testing.T) {
	repo, _ := setupRepo(t)
	_, err := repo.Get(context.Background(), "ZZZ-999")
	assert.ErrorIs(t, err, repository.ErrRoomNotFound)
}

func TestAddNote_ThenGet(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRoom("ABC-123")))
	require.NoError(t, repo.SetDraft(ctx, "ABC-123", "draft stays"))

	author := &domain.Author{DisplayName: "Ada", UID: "7"}
	note, err := repo.AddNote(ctx, "ABC-123", "hello", author)
	require.NoError(t, err)
	assert.NotEmpty(t, note.ID)
	assert.NotZero(t, note.CreatedAt)

	got, err := repo.Get(ctx, "ABC-123")
	require.NoError(t, err)
	require.Len(t, got.Notes, 1)
	stored := got.Notes[note.ID]
	assert.Equal(t, "hello", stored.Text)
	assert.Equal(t, note.CreatedAt, stored.CreatedAt)
	require.NotNil(t, stored.Author)
	assert.Equal(t, "Ada", stored.Author.DisplayName)
	// 追加笔记不会清空草稿
	assert.Equal(t, "draft stays", got.DraftText)
	assert.Equal(t, int64(1), got.NotesRev)
	assert.GreaterOrEqual(t, got.LastUpdated, note.CreatedAt)
}

func TestAddNote_MissingRoomIsNotResurrected(t *testing.T) {
	repo, mr := setupRepo(t)
	_, err := repo.AddNote(context.Background(), "ABC-123", "hello", nil)
	assert.ErrorIs(t, err, repository.ErrRoomNotFound)
	assert.False(t, mr.Exists("test:room:ABC-123"))
}

func TestDeleteNote(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRoom("ABC-123")))
	note, err := repo.AddNote(ctx, "ABC-123", "bye", nil)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteNote(ctx, "ABC-123", note.ID))
	got, err := repo.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Empty(t, got.Notes)
	rev := got.NotesRev

	// 删除不存在的笔记是空操作
	require.NoError(t, repo.DeleteNote(ctx, "ABC-123", "missing"))
	got, err = repo.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Equal(t, rev, got.NotesRev)
}

// afterDelHook 在第一次包含 HDEL 的事务提交后执行 fn，模拟紧接着发生的并发删除
type afterDelHook struct {
	once sync.Once
	fn   func()
}

func (h *afterDelHook) BeforeProcess(ctx context.Context, _ redis.Cmder) (context.Context, error) {
	return ctx, nil
}
func (h *afterDelHook) AfterProcess(context.Context, redis.Cmder) error { return nil }
func (h *afterDelHook) BeforeProcessPipeline(ctx context.Context, _ []redis.Cmder) (context.Context, error) {
	return ctx, nil
}
func (h *afterDelHook) AfterProcessPipeline(_ context.Context, cmds []redis.Cmder) error {
	for _, cmd := range cmds {
		if cmd.Name() == "hdel" {
			h.once.Do(h.fn)
		}
	}
	return nil
}

func TestDeleteNote_ConcurrentRoomDeleteLeavesNoKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := NewRedisRoomRepository(client, "test:")
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRoom("ABC-123")))
	note, err := repo.AddNote(ctx, "ABC-123", "bye", nil)
	require.NoError(t, err)

	roomKey := repo.roomKey("ABC-123")
	client.AddHook(&afterDelHook{fn: func() {
		// 清理任务在笔记删除提交后立即删掉整个房间
		mr.Del(roomKey)
		mr.Del(repo.notesKey("ABC-123"))
		mr.SRem(repo.roomsKey(), "ABC-123")
	}})

	require.NoError(t, repo.DeleteNote(ctx, "ABC-123", note.ID))
	assert.False(t, mr.Exists(roomKey), "no bare room hash may be recreated")

	_, err = repo.Get(ctx, "ABC-123")
	assert.ErrorIs(t, err, repository.ErrRoomNotFound)
}

func TestSetDraft_LastWriterWins(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRoom("ABC-123")))

	require.NoError(t, repo.SetDraft(ctx, "ABC-123", "first"))
	require.NoError(t, repo.SetDraft(ctx, "ABC-123", "second"))

	got, err := repo.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Equal(t, "second", got.DraftText)
	assert.Equal(t, int64(2), got.DraftRev)
}

func TestSetPermanent_KeepsExpiry(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	room := newRoom("ABC-123")
	require.NoError(t, repo.Create(ctx, room))

	require.NoError(t, repo.SetPermanent(ctx, "ABC-123", true))
	got, err := repo.Get(ctx, "ABC-123")
	require.NoError(t, err)
	assert.True(t, got.Permanent)
	assert.Equal(t, room.ExpiresAt, got.ExpiresAt)

	assert.ErrorIs(t, repo.SetPermanent(ctx, "NOP-000", true), repository.ErrRoomNotFound)
}

func TestListAndDelete(t *testing.T) {
	repo, mr := setupRepo(t)
	ctx := context.Background()
	for _, code := range []string{"AAA-111", "BBB-222", "CCC-333"} {
		require.NoError(t, repo.Create(ctx, newRoom(code)))
	}
	// 集合里的残留成员会被忽略
	_, err := mr.SAdd("test:rooms", "GHO-000")
	require.NoError(t, err)

	rooms, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 3)

	require.NoError(t, repo.Delete(ctx, "BBB-222"))
	assert.ErrorIs(t, repo.Delete(ctx, "BBB-222"), repository.ErrRoomNotFound)

	require.NoError(t, repo.DeleteBatch(ctx, []string{"AAA-111", "CCC-333"}))
	rooms, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
	assert.False(t, mr.Exists("test:room:AAA-111"))
}

func TestNextDailySequence_StrictlyIncreasing(t *testing.T) {
	repo, mr := setupRepo(t)
	ctx := context.Background()

	const workers = 20
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := repo.NextDailySequence(ctx, "261016")
			assert.NoError(t, err)
			mu.Lock()
			seen[seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers)
	for i := int64(1); i <= workers; i++ {
		assert.True(t, seen[i], "sequence %d missing", i)
	}
	assert.Greater(t, mr.TTL("test:seq:261016"), time.Duration(0))
}

func TestEventBus_PublishesMutations(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRoom("ABC-123")))

	sub, err := repo.Bus().Subscribe(ctx, "ABC-123")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, repo.SetDraft(ctx, "ABC-123", "typing"))
	_, err = repo.AddNote(ctx, "ABC-123", "saved", nil)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "ABC-123"))

	expect := []string{domain.EventDraft, domain.EventNotes, domain.EventRoomDeleted}
	for _, want := range expect {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, want, ev.Type)
			assert.Equal(t, "ABC-123", ev.Code)
			switch ev.Type {
			case domain.EventDraft:
				assert.Equal(t, "typing", ev.Text)
				assert.Equal(t, int64(1), ev.Rev)
			case domain.EventNotes:
				require.Len(t, ev.Notes, 1)
				assert.Equal(t, "saved", ev.Notes[0].Text)
				assert.Equal(t, int64(1), ev.Rev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}
