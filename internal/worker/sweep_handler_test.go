package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msea200/clipshare/internal/domain"
	redisstate "github.com/msea200/clipshare/internal/infra/state/redis"
	"github.com/msea200/clipshare/internal/service"
	"github.com/msea200/clipshare/internal/tasks"
)

type fakeSweeper struct {
	removed int
	err     error
	calls   int
}

func (f *fakeSweeper) Sweep(context.Context) (int, error) {
	f.calls++
	return f.removed, f.err
}

func TestRoomSweepHandler_Success(t *testing.T) {
	sweeper := &fakeSweeper{removed: 2}
	task, err := tasks.NewRoomSweepTask(tasks.SweepReasonSchedule, 0)
	require.NoError(t, err)

	err = NewRoomSweepHandler(sweeper).ProcessTask(context.Background(), task)
	assert.NoError(t, err)
	assert.Equal(t, 1, sweeper.calls)
}

func TestRoomSweepHandler_FailureSkipsRetry(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("redis down")}
	task, err := tasks.NewRoomSweepTask(tasks.SweepReasonSchedule, 0)
	require.NoError(t, err)

	err = NewRoomSweepHandler(sweeper).ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRoomSweepHandler_BadPayload(t *testing.T) {
	sweeper := &fakeSweeper{}
	err := NewRoomSweepHandler(sweeper).ProcessTask(context.Background(), asynq.NewTask(tasks.TypeRoomSweep, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, sweeper.calls)
}

func TestServeMux_SweepsExpiredRooms(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := redisstate.NewRedisRoomRepository(client, "test:")
	ctx := context.Background()

	now := time.Now()
	mr.SetTime(now)
	rooms := []*domain.Room{
		{Code: "AAA-111", ExpiresAt: now.Add(-time.Hour).UnixMilli()},
		{Code: "BBB-222", ExpiresAt: now.Add(-time.Hour).UnixMilli(), Permanent: true},
		{Code: "CCC-333", ExpiresAt: now.Add(time.Hour).UnixMilli()},
	}
	for _, r := range rooms {
		require.NoError(t, repo.Create(ctx, r))
	}

	task, err := tasks.NewRoomSweepTask(tasks.SweepReasonStartup, 0)
	require.NoError(t, err)
	mux := NewServeMux(service.NewLifecycleService(repo))
	require.NoError(t, mux.ProcessTask(ctx, task))

	_, err = repo.Get(ctx, "AAA-111")
	assert.Error(t, err)
	_, err = repo.Get(ctx, "BBB-222")
	assert.NoError(t, err)
	_, err = repo.Get(ctx, "CCC-333")
	assert.NoError(t, err)
}
