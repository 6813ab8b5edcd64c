package domain

// 房间变更事件类型
const (
	EventNotes       = "notes"        // 笔记集合变化，携带完整列表
	EventDraft       = "draft"        // 草稿变化
	EventPermanent   = "permanent"    // 永久标记变化
	EventRoomDeleted = "room_deleted" // 房间被删除（清理或管理员操作）
)

// RoomEvent 是通过房间频道广播的一条变更通知。
// Rev 对应该类型的修订号，接收方据此丢弃过时的事件。
type RoomEvent struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Rev       int64  `json:"rev,omitempty"`
	Notes     []Note `json:"notes,omitempty"`
	Text      string `json:"text"`
	Permanent bool   `json:"permanent,omitempty"`
}
