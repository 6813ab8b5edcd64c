package domain

import (
	"sort"
	"time"
)

// DefaultRoomExpiry 房间默认保留时长
const DefaultRoomExpiry = 24 * time.Hour

// MaxTextLength 是客户端的软性长度提示，服务端不强制。
const MaxTextLength = 10000

// Room 表示一个共享剪贴板房间。
// 所有时间字段都是毫秒级 epoch，CreatedAt / LastUpdated 来自存储端的服务器时钟。
type Room struct {
	Code        string          `json:"code"`         // 房间码，创建后不可变
	CreatedAt   int64           `json:"createdAt"`    // 服务器时间，只写一次
	LastUpdated int64           `json:"lastUpdated"`  // 内容变更时刷新
	ExpiresAt   int64           `json:"expiresAt"`    // 创建时间 + 保留时长，Permanent 时无意义
	Permanent   bool            `json:"permanent"`    // 为 true 时不参与过期清理
	Notes       map[string]Note `json:"notes"`        // 无序，展示顺序由 SortedNotes 推导
	DraftText   string          `json:"draftText"`    // 共享草稿，最后写入者胜出
	NotesRev    int64           `json:"notesRev"`     // Notes 每次变更递增
	DraftRev    int64           `json:"draftRev"`     // DraftText 每次变更递增
}

// IsExpiredAt 判断房间在 now 时刻是否已过期。永久房间永不过期。
func (r *Room) IsExpiredAt(now time.Time) bool {
	if r.Permanent {
		return false
	}
	return now.UnixMilli() > r.ExpiresAt
}

// SortedNotes 按 CreatedAt 倒序返回笔记列表。
func (r *Room) SortedNotes() []Note {
	return SortNotes(r.Notes)
}

// Note 表示房间内一条不可变的笔记。
type Note struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	CreatedAt int64   `json:"createdAt"`
	Author    *Author `json:"author,omitempty"` // 仅在登录用户写入时存在
}

// Author 在写入时反规范化保存，之后不会随用户资料变化。
type Author struct {
	DisplayName string `json:"displayName"`
	UID         string `json:"uid"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

// SortNotes 将笔记按创建时间倒序排列。时间相同的笔记之间没有约定顺序。
func SortNotes(notes map[string]Note) []Note {
	list := make([]Note, 0, len(notes))
	for _, n := range notes {
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt > list[j].CreatedAt
	})
	return list
}
