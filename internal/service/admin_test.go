package service_test

import (
	"context"
	"testing"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/repository"
	"github.com/msea200/clipshare/internal/repository/mocks"
	"github.com/msea200/clipshare/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	adminIdentity  = &domain.Identity{UserID: 1, Email: "boss@example.com", Role: domain.RoleAdmin}
	memberIdentity = &domain.Identity{UserID: 2, Email: "user@example.com", Role: domain.RoleMember}
)

func TestAdminService_RejectsNonAdmin(t *testing.T) {
	repo := new(mocks.RoomRepository)
	svc := service.NewAdminService(repo)
	ctx := context.Background()

	_, err := svc.ListFiltered(ctx, memberIdentity, service.FilterNormal)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
	_, err = svc.Toggle(ctx, nil, "ABC-123")
	assert.ErrorIs(t, err, service.ErrUnauthorized)
	assert.ErrorIs(t, svc.Delete(ctx, memberIdentity, "ABC-123"), service.ErrUnauthorized)

	repo.AssertNotCalled(t, "List", mock.Anything)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestAdminService_ListFiltered(t *testing.T) {
	repo := new(mocks.RoomRepository)
	svc := service.NewAdminService(repo)
	ctx := context.Background()

	rooms := []domain.Room{
		{Code: "AAA-111", CreatedAt: 100},
		{Code: "BBB-222", CreatedAt: 300, Permanent: true},
		{Code: "CCC-333", CreatedAt: 200},
		{Code: "DDD-444", CreatedAt: 50, Permanent: true},
	}
	repo.On("List", ctx).Return(rooms, nil)

	normal, err := svc.ListFiltered(ctx, adminIdentity, "")
	require.NoError(t, err)
	require.Len(t, normal.Rooms, 2)
	assert.Equal(t, "CCC-333", normal.Rooms[0].Code, "newest first")
	assert.Equal(t, "AAA-111", normal.Rooms[1].Code)
	assert.Equal(t, 2, normal.NormalCount)
	assert.Equal(t, 2, normal.PermanentCount)

	permanent, err := svc.ListFiltered(ctx, adminIdentity, service.FilterPermanent)
	require.NoError(t, err)
	require.Len(t, permanent.Rooms, 2)
	assert.Equal(t, "BBB-222", permanent.Rooms[0].Code)

	_, err = svc.ListFiltered(ctx, adminIdentity, "everything")
	assert.ErrorIs(t, err, service.ErrInvalidFilter)
}

func TestAdminService_Toggle(t *testing.T) {
	repo := new(mocks.RoomRepository)
	svc := service.NewAdminService(repo)
	ctx := context.Background()

	repo.On("Get", ctx, "ABC-123").Return(&domain.Room{Code: "ABC-123", Permanent: false}, nil).Once()
	repo.On("SetPermanent", ctx, "ABC-123", true).Return(nil).Once()

	permanent, err := svc.Toggle(ctx, adminIdentity, "abc-123")
	require.NoError(t, err)
	assert.True(t, permanent)

	repo.On("Get", ctx, "ZZZ-000").Return(nil, repository.ErrRoomNotFound).Once()
	_, err = svc.Toggle(ctx, adminIdentity, "ZZZ-000")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
	repo.AssertExpectations(t)
}

func TestAdminService_Delete(t *testing.T) {
	repo := new(mocks.RoomRepository)
	svc := service.NewAdminService(repo)
	ctx := context.Background()

	repo.On("Delete", ctx, "ABC-123").Return(nil).Once()
	repo.On("Delete", ctx, "ZZZ-000").Return(repository.ErrRoomNotFound).Once()

	assert.NoError(t, svc.Delete(ctx, adminIdentity, "ABC-123"))
	assert.ErrorIs(t, svc.Delete(ctx, adminIdentity, "ZZZ-000"), service.ErrRoomNotFound)
	repo.AssertExpectations(t)
}
