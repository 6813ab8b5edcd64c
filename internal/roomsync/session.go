package roomsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/roomcode"
)

// State 是会话的连接状态
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateSynced:
		return "synced"
	default:
		return "disconnected"
	}
}

// Origin 标记本地状态的最近一次变更来自本地编辑还是远端推送。
// 只有 OriginLocal 的草稿会被推送。
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// ChangeKind 是通知给调用方的变更类别
type ChangeKind string

const (
	ChangeNotes        ChangeKind = "notes"
	ChangeDraft        ChangeKind = "draft"
	ChangePermanent    ChangeKind = "permanent"
	ChangeConnectivity ChangeKind = "connectivity"
	ChangeRoomDeleted  ChangeKind = "room_deleted"
)

// Change 描述一次本地状态变化
type Change struct {
	Kind   ChangeKind
	Code   string
	Origin Origin
}

const (
	// DefaultDebounce 草稿推送的默认防抖时间
	DefaultDebounce       = 500 * time.Millisecond
	defaultWriteTimeout   = 10 * time.Second
	defaultReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay     = 15 * time.Second
)

// Options 配置 Session，零值可用
type Options struct {
	Debounce     time.Duration
	WriteTimeout time.Duration
	// ReconnectDelay 是订阅中断后第一次重连前的等待时间，之后每次翻倍
	ReconnectDelay time.Duration
	// OnChange 在锁外调用，可能来自事件 goroutine 或定时器 goroutine
	OnChange func(Change)
	Logger   *logrus.Entry
}

// Session 是一个客户端对单个房间的同步会话，可以反复 Join / Leave。
type Session struct {
	backend        Backend
	debounce       time.Duration
	writeTimeout   time.Duration
	reconnectDelay time.Duration
	onChange       func(Change)
	log            *logrus.Entry

	mu          sync.Mutex
	state       State
	epoch       uint64 // 每次 Join / Leave 递增，旧订阅和旧定时器的回调据此失效
	code        string
	room        domain.Room // 房间元数据，不含笔记
	notes       map[string]domain.Note
	notesRev    int64
	draft       string
	draftRev    int64
	draftOrigin Origin
	inflight    string // 已推送但尚未收到回显的草稿
	hasInflight bool
	connected   bool
	timer       *time.Timer
	pushSeq     uint64        // 每次本地编辑递增，过期的定时器据此放弃推送
	writing     bool          // 有 SetDraft 在途
	dirty       bool          // 在途写入结束后需要补推最新草稿
	writeIdle   chan struct{} // writing 结束时关闭
	sub         Subscription
	done        chan struct{}
}

// NewSession 创建一个处于 Disconnected 状态的会话
func NewSession(backend Backend, opts Options) *Session {
	if backend == nil {
		panic("Backend cannot be nil for Session")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "roomsync")
	}
	return &Session{
		backend:        backend,
		debounce:       opts.Debounce,
		writeTimeout:   opts.WriteTimeout,
		reconnectDelay: opts.ReconnectDelay,
		onChange:       opts.OnChange,
		log:            opts.Logger,
		notes:          make(map[string]domain.Note),
	}
}

// Join 校验并加入房间，成功后进入 Synced 状态。失败时回到 Disconnected。
func (s *Session) Join(ctx context.Context, rawCode string) error {
	code, err := roomcode.Parse(rawCode)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.state = StateJoining
	s.epoch++
	epoch := s.epoch
	s.code = code
	s.mu.Unlock()

	logCtx := s.log.WithField("room_code", code)
	fail := func(err error) error {
		s.mu.Lock()
		if s.epoch == epoch {
			s.state = StateDisconnected
			s.code = ""
		}
		s.mu.Unlock()
		logCtx.WithError(err).Debug("Join failed")
		return err
	}

	room, err := s.backend.Join(ctx, code)
	if err != nil {
		return fail(err)
	}
	sub, err := s.backend.Subscribe(ctx, code)
	if err != nil {
		return fail(err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Join 期间调用了 Leave
		s.mu.Unlock()
		_ = sub.Close()
		return ErrNotJoined
	}
	s.room = domain.Room{
		Code:        room.Code,
		CreatedAt:   room.CreatedAt,
		LastUpdated: room.LastUpdated,
		ExpiresAt:   room.ExpiresAt,
		Permanent:   room.Permanent,
	}
	s.notes = make(map[string]domain.Note, len(room.Notes))
	for id, n := range room.Notes {
		s.notes[id] = n
	}
	s.notesRev = room.NotesRev
	s.draft = room.DraftText
	s.draftRev = room.DraftRev
	s.draftOrigin = OriginRemote
	s.hasInflight = false
	s.connected = true
	s.sub = sub
	s.done = make(chan struct{})
	s.state = StateSynced
	done := s.done
	s.mu.Unlock()

	go s.pump(epoch, sub, done)
	logCtx.Info("Joined room")
	s.notify(Change{Kind: ChangeConnectivity, Code: code, Origin: OriginRemote})
	return nil
}

// Leave 取消订阅和待推送的草稿，清空房间状态。已经发出的写操作不等待完成。
func (s *Session) Leave() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	code := s.code
	sub := s.teardownLocked()
	s.mu.Unlock()

	s.log.WithField("room_code", code).Info("Left room")
	if sub != nil {
		return sub.Close()
	}
	return nil
}

// teardownLocked 需要持有 s.mu，返回需要在锁外关闭的订阅
func (s *Session) teardownLocked() Subscription {
	s.cancelPendingLocked()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	sub := s.sub
	s.sub = nil
	s.epoch++
	s.state = StateDisconnected
	s.code = ""
	s.room = domain.Room{}
	s.notes = make(map[string]domain.Note)
	s.notesRev, s.draftRev = 0, 0
	s.draft = ""
	s.draftOrigin = OriginRemote
	s.hasInflight = false
	s.connected = false
	return sub
}

// EditDraft 记录一次本地编辑并重置防抖定时器。定时器触发时推送当时最新的草稿。
func (s *Session) EditDraft(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSynced {
		return ErrNotJoined
	}
	s.draft = text
	s.draftOrigin = OriginLocal
	s.cancelPendingLocked()
	seq, epoch := s.pushSeq, s.epoch
	s.timer = time.AfterFunc(s.debounce, func() { s.flushDraft(epoch, seq) })
	return nil
}

// cancelPendingLocked 丢弃待推送的草稿，包括排在在途写入之后的那一次
func (s *Session) cancelPendingLocked() {
	s.pushSeq++
	s.dirty = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// flushDraft 是防抖定时器的回调。已有写入在途时只标记 dirty，
// 由在途写入结束后补推最新草稿，保证同一时刻最多一个 SetDraft。
func (s *Session) flushDraft(epoch, seq uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.pushSeq != seq || s.state != StateSynced || s.draftOrigin != OriginLocal {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.writing {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.beginWriteLocked()
	text, code := s.draft, s.code
	s.inflight, s.hasInflight = text, true
	s.mu.Unlock()

	s.writeDrafts(epoch, code, text)
}

// beginWriteLocked 占用草稿写入权
func (s *Session) beginWriteLocked() {
	s.writing = true
	s.writeIdle = make(chan struct{})
}

// endWriteLocked 释放草稿写入权并唤醒等待者
func (s *Session) endWriteLocked() {
	s.writing = false
	s.dirty = false
	if s.writeIdle != nil {
		close(s.writeIdle)
		s.writeIdle = nil
	}
}

// acquireWriter 等待在途的草稿写入结束并占用写入权，成功时返回且持有 s.mu
func (s *Session) acquireWriter(ctx context.Context) error {
	s.mu.Lock()
	for s.writing {
		idle := s.writeIdle
		s.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	s.beginWriteLocked()
	return nil
}

// writeDrafts 持有写入权，推送 text 后继续补推写入期间积累的最新草稿，最后释放写入权
func (s *Session) writeDrafts(epoch uint64, code, text string) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := s.backend.SetDraft(ctx, code, text)
		cancel()

		s.mu.Lock()
		if err != nil {
			// 下一次编辑会再次触发推送
			s.log.WithField("room_code", code).WithError(err).Warn("Debounced draft write failed, dropping")
			if s.epoch == epoch && s.hasInflight && s.inflight == text {
				s.hasInflight = false
			}
		}
		if !s.dirty || s.state != StateSynced || s.draftOrigin != OriginLocal {
			s.endWriteLocked()
			s.mu.Unlock()
			return
		}
		s.dirty = false
		epoch, code, text = s.epoch, s.code, s.draft
		s.inflight, s.hasInflight = text, true
		s.mu.Unlock()
	}
}

// Commit 把当前草稿保存为笔记，然后立即清空草稿。
// 清空失败时笔记已经保存，返回的 note 非空且错误被包装返回。
func (s *Session) Commit(ctx context.Context) (*domain.Note, error) {
	s.mu.Lock()
	if s.state != StateSynced {
		s.mu.Unlock()
		return nil, ErrNotJoined
	}
	text := strings.TrimSpace(s.draft)
	if text == "" {
		s.mu.Unlock()
		return nil, ErrEmptyNote
	}
	code, epoch := s.code, s.epoch
	s.cancelPendingLocked()
	s.mu.Unlock()

	note, err := s.backend.AddNote(ctx, code, text)
	if err != nil {
		return nil, err
	}

	// 清空草稿也是一次草稿写入，需要排在在途的防抖写入之后
	if err := s.acquireWriter(ctx); err != nil {
		return note, fmt.Errorf("roomsync: note %s committed but draft not cleared: %w", note.ID, err)
	}
	stillJoined := s.epoch == epoch
	if stillJoined {
		s.notes[note.ID] = *note
		s.draft = ""
		s.draftOrigin = OriginLocal
		s.inflight, s.hasInflight = "", true
	}
	s.mu.Unlock()
	if stillJoined {
		s.notify(Change{Kind: ChangeNotes, Code: code, Origin: OriginLocal})
		s.notify(Change{Kind: ChangeDraft, Code: code, Origin: OriginLocal})
	}

	clearErr := s.backend.SetDraft(ctx, code, "")

	s.mu.Lock()
	if clearErr != nil && s.epoch == epoch && s.hasInflight && s.inflight == "" {
		s.hasInflight = false
	}
	if s.dirty && s.state == StateSynced && s.draftOrigin == OriginLocal {
		// 清空期间又有编辑到期，交给后台补推
		s.dirty = false
		nextEpoch, nextCode, nextText := s.epoch, s.code, s.draft
		s.inflight, s.hasInflight = nextText, true
		s.mu.Unlock()
		go s.writeDrafts(nextEpoch, nextCode, nextText)
	} else {
		s.endWriteLocked()
		s.mu.Unlock()
	}

	if clearErr != nil {
		return note, fmt.Errorf("roomsync: note %s committed but draft not cleared: %w", note.ID, clearErr)
	}
	return note, nil
}

// DeleteNote 删除笔记，ID 不存在不视为错误
func (s *Session) DeleteNote(ctx context.Context, noteID string) error {
	s.mu.Lock()
	if s.state != StateSynced {
		s.mu.Unlock()
		return ErrNotJoined
	}
	code, epoch := s.code, s.epoch
	s.mu.Unlock()

	if err := s.backend.DeleteNote(ctx, code, noteID); err != nil {
		return err
	}

	s.mu.Lock()
	_, existed := s.notes[noteID]
	if s.epoch == epoch {
		delete(s.notes, noteID)
	}
	s.mu.Unlock()
	if existed {
		s.notify(Change{Kind: ChangeNotes, Code: code, Origin: OriginLocal})
	}
	return nil
}

// pump 把订阅上的事件应用到会话。订阅中断时标记离线，按退避间隔重新订阅，
// 新连接推送的快照和版本号负责补齐断线期间的变更。
func (s *Session) pump(epoch uint64, sub Subscription, done <-chan struct{}) {
	for {
		if !s.drain(epoch, sub, done) {
			return
		}
		s.setConnected(epoch, false)
		_ = sub.Close()

		next, ok := s.resubscribe(epoch, done)
		if !ok {
			return
		}
		sub = next
	}
}

// drain 在订阅中断时返回 true，会话离开房间时返回 false
func (s *Session) drain(epoch uint64, sub Subscription, done <-chan struct{}) bool {
	events := sub.Events()
	connectivity := sub.Connectivity()
	for {
		select {
		case <-done:
			return false
		case ev, ok := <-events:
			if !ok {
				return true
			}
			s.applyEvent(epoch, ev)
		case up, ok := <-connectivity:
			if !ok {
				connectivity = nil
				continue
			}
			s.setConnected(epoch, up)
		}
	}
}

func (s *Session) resubscribe(epoch uint64, done <-chan struct{}) (Subscription, bool) {
	delay := s.reconnectDelay
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-done:
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return nil, false
		}
		code := s.code
		s.mu.Unlock()
		logCtx := s.log.WithFields(logrus.Fields{"room_code": code, "attempt": attempt})

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		sub, err := s.backend.Subscribe(ctx, code)
		cancel()
		if err == nil {
			s.mu.Lock()
			if s.epoch != epoch {
				s.mu.Unlock()
				_ = sub.Close()
				return nil, false
			}
			s.sub = sub
			s.mu.Unlock()
			logCtx.Info("Resubscribed to room")
			s.setConnected(epoch, true)
			return sub, true
		}

		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
			logCtx.WithError(err).Warn("Room is gone, session left")
			s.roomGone(epoch, code)
			return nil, false
		}
		logCtx.WithError(err).Warn("Resubscribe failed, retrying")
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// roomGone 在断线期间房间被删除或过期时离开房间并报告
func (s *Session) roomGone(epoch uint64, code string) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	sub := s.teardownLocked()
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	s.notify(Change{Kind: ChangeRoomDeleted, Code: code, Origin: OriginRemote})
}

// applyEvent 以 OriginRemote 应用一条远端事件。远端来源的变更不会触发任何推送。
func (s *Session) applyEvent(epoch uint64, ev domain.RoomEvent) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateSynced {
		s.mu.Unlock()
		return
	}
	code := s.code
	logCtx := s.log.WithFields(logrus.Fields{"room_code": code, "event": ev.Type, "rev": ev.Rev})

	var change *Change
	var sub Subscription
	switch ev.Type {
	case domain.EventNotes:
		if ev.Rev <= s.notesRev {
			logCtx.Debug("Ignoring stale notes event")
			break
		}
		s.notesRev = ev.Rev
		s.notes = make(map[string]domain.Note, len(ev.Notes))
		for _, n := range ev.Notes {
			s.notes[n.ID] = n
		}
		change = &Change{Kind: ChangeNotes, Code: code, Origin: OriginRemote}

	case domain.EventDraft:
		if ev.Rev <= s.draftRev {
			logCtx.Debug("Ignoring stale draft event")
			break
		}
		s.draftRev = ev.Rev
		if s.hasInflight && ev.Text == s.inflight {
			// 自己推送的回显；如果之后又有本地编辑，保留本地内容
			s.hasInflight = false
			if s.draftOrigin == OriginLocal && s.draft != ev.Text {
				break
			}
		}
		changed := s.draft != ev.Text
		s.draft = ev.Text
		s.draftOrigin = OriginRemote
		s.cancelPendingLocked()
		if changed {
			change = &Change{Kind: ChangeDraft, Code: code, Origin: OriginRemote}
		}

	case domain.EventPermanent:
		s.room.Permanent = ev.Permanent
		change = &Change{Kind: ChangePermanent, Code: code, Origin: OriginRemote}

	case domain.EventRoomDeleted:
		sub = s.teardownLocked()
		change = &Change{Kind: ChangeRoomDeleted, Code: code, Origin: OriginRemote}
		logCtx.Warn("Room deleted remotely, session left")

	default:
		logCtx.Debug("Ignoring unknown event type")
	}
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	if change != nil {
		s.notify(*change)
	}
}

func (s *Session) setConnected(epoch uint64, up bool) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateSynced || s.connected == up {
		s.mu.Unlock()
		return
	}
	s.connected = up
	code := s.code
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeConnectivity, Code: code, Origin: OriginRemote})
}

func (s *Session) notify(change Change) {
	if s.onChange != nil {
		s.onChange(change)
	}
}

// --- 只读访问 ---

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Room 返回房间元数据的副本，未加入时返回 nil
func (s *Session) Room() *domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSynced {
		return nil
	}
	room := s.room
	return &room
}

// Notes 按创建时间倒序返回笔记
func (s *Session) Notes() []domain.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SortNotes(s.notes)
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// DraftOrigin 报告当前草稿的来源
func (s *Session) DraftOrigin() Origin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draftOrigin
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
