package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/repository/mocks"
	"github.com/msea200/clipshare/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newCollaborationService(repo *mocks.RoomRepository) *service.CollaborationService {
	roomSvc := service.NewRoomService(repo, service.NewLifecycleService(repo), time.Hour, time.UTC)
	return service.NewCollaborationService(roomSvc)
}

func TestCollaborationService_DispatchesMessages(t *testing.T) {
	repo := new(mocks.RoomRepository)
	svc := newCollaborationService(repo)
	ctx := context.Background()
	identity := &domain.Identity{UserID: 4, DisplayName: "Lin"}

	repo.On("SetDraft", ctx, "ABC-123", "typing").Return(nil).Once()
	repo.On("AddNote", ctx, "ABC-123", "saved", mock.AnythingOfType("*domain.Author")).
		Return(&domain.Note{ID: "n1"}, nil).Once()
	repo.On("DeleteNote", ctx, "ABC-123", "n1").Return(nil).Once()

	assert.NoError(t, svc.ProcessIncomingMessage(ctx, "ABC-123", identity, []byte(`{"type":"draft","text":"typing"}`)))
	assert.NoError(t, svc.ProcessIncomingMessage(ctx, "ABC-123", identity, []byte(`{"type":"add_note","text":"saved"}`)))
	assert.NoError(t, svc.ProcessIncomingMessage(ctx, "ABC-123", nil, []byte(`{"type":"delete_note","noteId":"n1"}`)))
	repo.AssertExpectations(t)
}

func TestCollaborationService_RejectsBadMessages(t *testing.T) {
	repo := new(mocks.RoomRepository)
	svc := newCollaborationService(repo)
	ctx := context.Background()

	assert.ErrorIs(t, svc.ProcessIncomingMessage(ctx, "ABC-123", nil, []byte(`not json`)), service.ErrInvalidMessage)
	assert.ErrorIs(t, svc.ProcessIncomingMessage(ctx, "ABC-123", nil, []byte(`{"type":"erase"}`)), service.ErrInvalidMessage)
	assert.ErrorIs(t, svc.ProcessIncomingMessage(ctx, "ABC-123", nil, []byte(`{"type":"add_note","text":" "}`)), service.ErrEmptyNote)
}
