package mocks

import (
	"context"
	"time"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/stretchr/testify/mock"
)

// RoomRepository 是 repository.RoomRepository 的 testify mock
type RoomRepository struct {
	mock.Mock
}

func (m *RoomRepository) ServerTime(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	t, _ := args.Get(0).(time.Time)
	return t, args.Error(1)
}

func (m *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	return m.Called(ctx, room).Error(0)
}

func (m *RoomRepository) Get(ctx context.Context, code string) (*domain.Room, error) {
	args := m.Called(ctx, code)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *RoomRepository) List(ctx context.Context) ([]domain.Room, error) {
	args := m.Called(ctx)
	rooms, _ := args.Get(0).([]domain.Room)
	return rooms, args.Error(1)
}

func (m *RoomRepository) AddNote(ctx context.Context, code string, text string, author *domain.Author) (*domain.Note, error) {
	args := m.Called(ctx, code, text, author)
	note, _ := args.Get(0).(*domain.Note)
	return note, args.Error(1)
}

func (m *RoomRepository) DeleteNote(ctx context.Context, code string, noteID string) error {
	return m.Called(ctx, code, noteID).Error(0)
}

func (m *RoomRepository) SetDraft(ctx context.Context, code string, text string) error {
	return m.Called(ctx, code, text).Error(0)
}

func (m *RoomRepository) SetPermanent(ctx context.Context, code string, permanent bool) error {
	return m.Called(ctx, code, permanent).Error(0)
}

func (m *RoomRepository) Delete(ctx context.Context, code string) error {
	return m.Called(ctx, code).Error(0)
}

func (m *RoomRepository) DeleteBatch(ctx context.Context, codes []string) error {
	return m.Called(ctx, codes).Error(0)
}

func (m *RoomRepository) NextDailySequence(ctx context.Context, dayPrefix string) (int64, error) {
	args := m.Called(ctx, dayPrefix)
	seq, _ := args.Get(0).(int64)
	return seq, args.Error(1)
}
