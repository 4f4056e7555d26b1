package models

import "time"

type Role string

const (
	RoleLeader   Role = "leader"
	RoleEmployee Role = "employee"
)

func (r Role) Valid() bool { return r == RoleLeader || r == RoleEmployee }

type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"` // subject id из identity
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name   string `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Role   Role   `gorm:"size:16;not null" json:"role"`
	HasDSC bool   `gorm:"column:has_dsc;not null;default:false" json:"hasDsc"`
}

func (User) TableName() string { return "users" }
