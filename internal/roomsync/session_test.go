package roomsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/roomcode"
)

const testDebounce = 30 * time.Millisecond

type fakeSub struct {
	events       chan domain.RoomEvent
	connectivity chan bool
	mu           sync.Mutex
	closed       bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan domain.RoomEvent, 16), connectivity: make(chan bool, 4)}
}

func (f *fakeSub) Events() <-chan domain.RoomEvent { return f.events }
func (f *fakeSub) Connectivity() <-chan bool       { return f.connectivity }
func (f *fakeSub) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeSub) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeBackend struct {
	mu          sync.Mutex
	room        *domain.Room
	joinErr     error
	setDraftErr error
	drafts      []string
	added       []string
	deleted     []string
	sub         *fakeSub

	subscribeErr   error
	subscribeCalls int

	// draftGate 非空时 SetDraft 阻塞到收到一个值
	draftGate   chan struct{}
	draftActive int
	draftMax    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		room: &domain.Room{
			Code:      "ABC-123",
			Notes:     map[string]domain.Note{"n1": {ID: "n1", Text: "first", CreatedAt: 1}},
			DraftText: "hello",
			NotesRev:  1,
			DraftRev:  1,
		},
		sub: newFakeSub(),
	}
}

func (b *fakeBackend) Join(_ context.Context, code string) (*domain.Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.joinErr != nil {
		return nil, b.joinErr
	}
	if code != b.room.Code {
		return nil, ErrNotFound
	}
	room := *b.room
	return &room, nil
}

func (b *fakeBackend) Subscribe(context.Context, string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeCalls++
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	return b.sub, nil
}

func (b *fakeBackend) currentSub() *fakeSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub
}

func (b *fakeBackend) AddNote(_ context.Context, _ string, text string) (*domain.Note, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added = append(b.added, text)
	return &domain.Note{ID: "new", Text: text, CreatedAt: 2}, nil
}

func (b *fakeBackend) DeleteNote(_ context.Context, _ string, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) SetDraft(_ context.Context, _ string, text string) error {
	b.mu.Lock()
	b.draftActive++
	if b.draftActive > b.draftMax {
		b.draftMax = b.draftActive
	}
	gate := b.draftGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.draftActive--
	if b.setDraftErr != nil {
		return b.setDraftErr
	}
	b.drafts = append(b.drafts, text)
	return nil
}

func (b *fakeBackend) draftWrites() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.drafts...)
}

func joined(t *testing.T, b *fakeBackend, onChange func(Change)) *Session {
	t.Helper()
	s := NewSession(b, Options{Debounce: testDebounce, OnChange: onChange})
	require.NoError(t, s.Join(context.Background(), "abc-123"))
	t.Cleanup(func() { _ = s.Leave() })
	return s
}

func TestSession_JoinAndLeave(t *testing.T) {
	b := newFakeBackend()
	s := NewSession(b, Options{Debounce: testDebounce})
	assert.Equal(t, StateDisconnected, s.State())

	require.NoError(t, s.Join(context.Background(), " abc-123 "))
	assert.Equal(t, StateSynced, s.State())
	assert.Equal(t, "ABC-123", s.Code())
	assert.Equal(t, "hello", s.Draft())
	assert.True(t, s.Connected())
	require.Len(t, s.Notes(), 1)
	assert.ErrorIs(t, s.Join(context.Background(), "ABC-123"), ErrAlreadyJoined)

	require.NoError(t, s.Leave())
	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, b.sub.isClosed())
	assert.Empty(t, s.Notes())
	assert.Empty(t, s.Draft())
	assert.Nil(t, s.Room())
	assert.ErrorIs(t, s.EditDraft("x"), ErrNotJoined)
}

func TestSession_JoinFailures(t *testing.T) {
	b := newFakeBackend()
	s := NewSession(b, Options{})

	assert.ErrorIs(t, s.Join(context.Background(), "nope"), roomcode.ErrInvalidCode)
	assert.ErrorIs(t, s.Join(context.Background(), "XYZ-999"), ErrNotFound)
	assert.Equal(t, StateDisconnected, s.State())

	b.joinErr = ErrExpired
	assert.ErrorIs(t, s.Join(context.Background(), "ABC-123"), ErrExpired)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_DebounceCoalescesEdits(t *testing.T) {
	b := newFakeBackend()
	s := joined(t, b, nil)

	for _, text := range []string{"h", "he", "hel", "hell", "hello world"} {
		require.NoError(t, s.EditDraft(text))
	}
	assert.Eventually(t, func() bool { return len(b.draftWrites()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testDebounce)
	assert.Equal(t, []string{"hello world"}, b.draftWrites())
}

func TestSession_RemoteNotesTriggerNoWrites(t *testing.T) {
	b := newFakeBackend()
	s := joined(t, b, nil)

	b.sub.events <- domain.RoomEvent{
		Type:  domain.EventNotes,
		Code:  "ABC-123",
		Rev:   2,
		Notes: []domain.Note{{ID: "n1", Text: "first", CreatedAt: 1}, {ID: "n2", Text: "second", CreatedAt: 5}},
	}
	assert.Eventually(t, func() bool { return len(s.Notes()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "n2", s.Notes()[0].ID)

	time.Sleep(3 * testDebounce)
	assert.Empty(t, b.draftWrites())
}

func TestSession_RemoteDraftCancelsPendingPush(t *testing.T) {
	b := newFakeBackend()
	s := joined(t, b, nil)

	require.NoError(t, s.EditDraft("local typing"))
	b.sub.events <- domain.RoomEvent{Type: domain.EventDraft, Code: "ABC-123", Rev: 2, Text: "from elsewhere"}

	assert.Eventually(t, func() bool { return s.Draft() == "from elsewhere" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, OriginRemote, s.DraftOrigin())
	time.Sleep(3 * testDebounce)
	assert.Empty(t, b.draftWrites(), "remote draft must not be echoed back")
}

func TestSession_StaleRevisionsIgnored(t *testing.T) {
	b := newFakeBackend()
	var mu sync.Mutex
	var changes []Change
	s := joined(t, b, func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	b.sub.events <- domain.RoomEvent{Type: domain.EventDraft, Rev: 1, Text: "old"}
	b.sub.events <- domain.RoomEvent{Type: domain.EventNotes, Rev: 1}
	b.sub.events <- domain.RoomEvent{Type: domain.EventPermanent, Permanent: true}

	assert.Eventually(t, func() bool { return s.Room() != nil && s.Room().Permanent }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", s.Draft())
	assert.Len(t, s.Notes(), 1)

	mu.Lock()
	defer mu.Unlock()
	for _, c := range changes {
		assert.NotEqual(t, ChangeDraft, c.Kind)
		assert.NotEqual(t, ChangeNotes, c.Kind)
	}
}

func TestSession_OwnEchoKeepsNewerLocalEdit(t *testing.T) {
	b := newFakeBackend()
	s := joined(t, b, nil)

	require.NoError(t, s.EditDraft("a"))
	assert.Eventually(t, func() bool { return len(b.draftWrites()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.EditDraft("ab"))
	b.sub.events <- domain.RoomEvent{Type: domain.EventDraft, Rev: 2, Text: "a"}

	assert.Eventually(t, func() bool { return len(b.draftWrites()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "ab"}, b.draftWrites())
	assert.Equal(t, "ab", s.Draft())
}

func TestSession_Commit(t *testing.T) {
	b := newFakeBackend()
	s := joined(t, b, nil)

	require.NoError(t, s.EditDraft("  buy milk  "))
	note, err := s.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "buy milk", note.Text)
	assert.Equal(t, []string{"buy milk"}, b.added)
	assert.Equal(t, []string{""}, b.draftWrites(), "draft is cleared immediately and the debounced push is dropped")
	assert.Empty(t, s.Draft())
	assert.Len(t, s.Notes(), 2)

	_, err = s.Commit(context.Background())
	assert.ErrorIs(t, err, ErrEmptyNote)

	time.Sleep(3 * testDebounce)
	assert.Equal(t, []string{""}, b.draftWrites())
}

func TestSession_CommitClearFailureIsReported(t *testing.T) {
	b := newFakeBackend()
	s := joined(t, b, nil)
	clearErr := errors.New("write rejected")
	b.setDraftErr = clearErr

	note, err := s.Commit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, clearErr)
	require.NotNil(t, note, "note stays committed")
	assert.Equal(t, "hello", note.Text)
}

func TestSession_DeleteNote(t *testing.T) {
	b := newFakeBackend()
	s := joined(t, b, nil)

	require.NoError(t, s.DeleteNote(context.Background(), "n1"))
	require.NoError(t, s.DeleteNote(context.Background(), "missing"))
	assert.Empty(t, s.Notes())
	assert.Equal(t, []string{"n1", "missing"}, b.deleted)
}

func TestSession_RoomDeletedRemotely(t *testing.T) {
	b := newFakeBackend()
	deleted := make(chan Change, 1)
	s := joined(t, b, func(c Change) {
		if c.Kind == ChangeRoomDeleted {
			deleted <- c
		}
	})

	require.NoError(t, s.EditDraft("pending"))
	b.sub.events <- domain.RoomEvent{Type: domain.EventRoomDeleted, Code: "ABC-123"}

	select {
	case c := <-deleted:
		assert.Equal(t, "ABC-123", c.Code)
	case <-time.After(time.Second):
		t.Fatal("room_deleted was not reported")
	}
	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, b.sub.isClosed())
	time.Sleep(3 * testDebounce)
	assert.Empty(t, b.draftWrites())
}

func TestSession_Connectivity(t *testing.T) {
	b := newFakeBackend()
	s := joined(t, b, nil)

	b.sub.connectivity <- false
	assert.Eventually(t, func() bool { return !s.Connected() }, time.Second, 5*time.Millisecond)
	b.sub.connectivity <- true
	assert.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
}

func TestSession_FailedDebouncedWriteIsDropped(t *testing.T) {
	b := newFakeBackend()
	b.setDraftErr = errors.New("offline")
	s := joined(t, b, nil)

	require.NoError(t, s.EditDraft("lost"))
	time.Sleep(3 * testDebounce)
	assert.Equal(t, StateSynced, s.State())
	assert.Equal(t, "lost", s.Draft())

	b.mu.Lock()
	b.setDraftErr = nil
	b.mu.Unlock()
	require.NoError(t, s.EditDraft("retry"))
	assert.Eventually(t, func() bool { return len(b.draftWrites()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"retry"}, b.draftWrites())
}

func TestSession_DraftWritesAreSerialized(t *testing.T) {
	b := newFakeBackend()
	b.draftGate = make(chan struct{})
	s := joined(t, b, nil)

	require.NoError(t, s.EditDraft("abc"))
	// 第一次写入阻塞在途
	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.draftActive == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.EditDraft("abcd"))
	require.NoError(t, s.EditDraft("abcde"))
	time.Sleep(3 * testDebounce)
	b.mu.Lock()
	assert.Equal(t, 1, b.draftActive, "a second write must wait for the first")
	b.mu.Unlock()

	b.draftGate <- struct{}{}
	b.draftGate <- struct{}{}
	assert.Eventually(t, func() bool { return len(b.draftWrites()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"abc", "abcde"}, b.draftWrites())
	b.mu.Lock()
	assert.Equal(t, 1, b.draftMax)
	b.mu.Unlock()
}

func TestSession_CommitWaitsForDraftWrite(t *testing.T) {
	b := newFakeBackend()
	b.draftGate = make(chan struct{})
	s := joined(t, b, nil)

	require.NoError(t, s.EditDraft("note text"))
	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.draftActive == 1
	}, time.Second, 5*time.Millisecond)

	committed := make(chan error, 1)
	go func() {
		_, err := s.Commit(context.Background())
		committed <- err
	}()
	b.draftGate <- struct{}{}
	b.draftGate <- struct{}{}

	select {
	case err := <-committed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("commit did not finish")
	}
	assert.Equal(t, []string{"note text", ""}, b.draftWrites())
	b.mu.Lock()
	assert.Equal(t, 1, b.draftMax)
	b.mu.Unlock()
}

func TestSession_ResubscribesAfterConnectionLoss(t *testing.T) {
	b := newFakeBackend()
	var mu sync.Mutex
	var connectivity []bool
	var s *Session
	s = NewSession(b, Options{Debounce: testDebounce, ReconnectDelay: 10 * time.Millisecond, OnChange: func(c Change) {
		if c.Kind == ChangeConnectivity {
			mu.Lock()
			connectivity = append(connectivity, s.Connected())
			mu.Unlock()
		}
	}})
	require.NoError(t, s.Join(context.Background(), "ABC-123"))
	t.Cleanup(func() { _ = s.Leave() })

	old := b.currentSub()
	next := newFakeSub()
	b.mu.Lock()
	b.subscribeErr = errors.New("dial refused")
	b.sub = next
	b.mu.Unlock()
	close(old.events)

	assert.Eventually(t, func() bool { return !s.Connected() }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, old.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateSynced, s.State())

	b.mu.Lock()
	b.subscribeErr = nil
	b.mu.Unlock()
	assert.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)
	b.mu.Lock()
	assert.GreaterOrEqual(t, b.subscribeCalls, 3)
	b.mu.Unlock()

	// 新订阅上的快照补齐断线期间的变更
	next.events <- domain.RoomEvent{Type: domain.EventDraft, Code: "ABC-123", Rev: 5, Text: "while offline"}
	assert.Eventually(t, func() bool { return s.Draft() == "while offline" }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Leave())
	assert.True(t, next.isClosed())
	mu.Lock()
	assert.Equal(t, []bool{true, false, true}, connectivity)
	mu.Unlock()
}

func TestSession_RoomGoneWhileDisconnected(t *testing.T) {
	b := newFakeBackend()
	deleted := make(chan Change, 1)
	s := NewSession(b, Options{Debounce: testDebounce, ReconnectDelay: 10 * time.Millisecond, OnChange: func(c Change) {
		if c.Kind == ChangeRoomDeleted {
			deleted <- c
		}
	}})
	require.NoError(t, s.Join(context.Background(), "ABC-123"))
	t.Cleanup(func() { _ = s.Leave() })

	b.mu.Lock()
	b.subscribeErr = ErrNotFound
	b.mu.Unlock()
	close(b.currentSub().events)

	select {
	case c := <-deleted:
		assert.Equal(t, "ABC-123", c.Code)
	case <-time.After(time.Second):
		t.Fatal("missing room was not reported")
	}
	assert.Equal(t, StateDisconnected, s.State())
}
