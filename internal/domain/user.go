// Package domain 定义了应用程序中使用的核心数据结构。
package domain

import (
	"strconv"
	"time"
)

// 用户角色
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User 表示应用程序中的用户。
type User struct {
	ID          uint      `gorm:"primaryKey"`
	Username    string    `gorm:"type:varchar(191);uniqueIndex:idx_username;not null"`
	Password    string    `gorm:"type:text;not null"` // bcrypt 哈希
	Email       string    `gorm:"type:varchar(191);uniqueIndex:idx_email"`
	DisplayName string    `gorm:"type:varchar(191)"`
	PhotoURL    string    `gorm:"type:text"`
	Role        string    `gorm:"type:varchar(32);not null;default:member"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Identity 是已验证身份的精简视图，来源于签名 token 中的 claims。
type Identity struct {
	UserID      uint   `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	Role        string `json:"role"`
}

// IsAdmin 仅用于客户端渲染判断，真正的授权在服务端中间件完成。
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Author 从身份生成写入笔记时的作者信息。
func (i *Identity) Author() *Author {
	if i == nil {
		return nil
	}
	name := i.DisplayName
	if name == "" {
		name = i.Email
	}
	return &Author{
		DisplayName: name,
		UID:         strconv.FormatUint(uint64(i.UserID), 10),
		PhotoURL:    i.PhotoURL,
	}
}

// IdentityOf 从用户记录构造 Identity。
func IdentityOf(u *User) *Identity {
	return &Identity{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		PhotoURL:    u.PhotoURL,
		Role:        u.Role,
	}
}
