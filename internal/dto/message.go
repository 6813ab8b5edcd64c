package dto

import "github.com/msea200/clipshare/internal/domain"

// 客户端通过 WebSocket 发送的消息类型
const (
	MessageDraft      = "draft"
	MessageAddNote    = "add_note"
	MessageDeleteNote = "delete_note"
)

// 服务端额外推送的消息类型（其余直接使用 domain.RoomEvent 的类型）
const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

// IncomingMessage 表示从客户端 WebSocket 消息中接收的一次写操作
type IncomingMessage struct {
	Type   string `json:"type" binding:"required,oneof=draft add_note delete_note"`
	Text   string `json:"text,omitempty"`
	NoteID string `json:"noteId,omitempty"`
}

// SnapshotDTO 在客户端连接后发送一次，包含房间的完整状态
type SnapshotDTO struct {
	Type string       `json:"type"`
	Room *RoomPayload `json:"room"`
}

// ErrorDTO 表示发送给客户端的错误消息数据结构
type ErrorDTO struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RoomPayload 是房间在 HTTP 响应和快照中的展示形式，笔记已按时间倒序排列
type RoomPayload struct {
	Code        string        `json:"code"`
	CreatedAt   int64         `json:"createdAt"`
	LastUpdated int64         `json:"lastUpdated"`
	ExpiresAt   int64         `json:"expiresAt"`
	Permanent   bool          `json:"permanent"`
	Notes       []domain.Note `json:"notes"`
	DraftText   string        `json:"draftText"`
	NotesRev    int64         `json:"notesRev"`
	DraftRev    int64         `json:"draftRev"`
}

// NewRoomPayload 从领域对象构造展示形式
func NewRoomPayload(room *domain.Room) *RoomPayload {
	if room == nil {
		return nil
	}
	return &RoomPayload{
		Code:        room.Code,
		CreatedAt:   room.CreatedAt,
		LastUpdated: room.LastUpdated,
		ExpiresAt:   room.ExpiresAt,
		Permanent:   room.Permanent,
		Notes:       room.SortedNotes(),
		DraftText:   room.DraftText,
		NotesRev:    room.NotesRev,
		DraftRev:    room.DraftRev,
	}
}

// ToRoom 将展示形式还原为领域对象（客户端使用）
func (p *RoomPayload) ToRoom() *domain.Room {
	notes := make(map[string]domain.Note, len(p.Notes))
	for _, n := range p.Notes {
		notes[n.ID] = n
	}
	return &domain.Room{
		Code:        p.Code,
		CreatedAt:   p.CreatedAt,
		LastUpdated: p.LastUpdated,
		ExpiresAt:   p.ExpiresAt,
		Permanent:   p.Permanent,
		Notes:       notes,
		DraftText:   p.DraftText,
		NotesRev:    p.NotesRev,
		DraftRev:    p.DraftRev,
	}
}

// CreateRoomRequest 创建房间的请求体
type CreateRoomRequest struct {
	Scheme string `json:"scheme" binding:"omitempty,oneof=random dated"`
}

// NoteRequest 添加笔记的请求体
type NoteRequest struct {
	Text string `json:"text" binding:"required"`
}

// DraftRequest 设置草稿的请求体，空字符串是合法值
type DraftRequest struct {
	Text string `json:"text"`
}

// ReformatRequest 重排版代理的请求体
type ReformatRequest struct {
	Prompt string `json:"prompt"`
}

// ReformatResponse 重排版代理的响应体
type ReformatResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RegisterRequest 注册请求体
type RegisterRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Email       string `json:"email" binding:"omitempty,email"`
	DisplayName string `json:"displayName"`
}

// LoginRequest 登录请求体
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应体
type LoginResponse struct {
	Token    string           `json:"token"`
	Identity *domain.Identity `json:"identity"`
}

// TogglePermanentResponse 切换永久标记的响应体
type TogglePermanentResponse struct {
	Code      string `json:"code"`
	Permanent bool   `json:"permanent"`
}
