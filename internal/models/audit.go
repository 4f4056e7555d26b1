package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditAction string

const (
	ActionTake      AuditAction = "TAKE"
	ActionReturn    AuditAction = "RETURN"
	ActionAddDSC    AuditAction = "ADD_DSC"
	ActionUpdateDSC AuditAction = "UPDATE_DSC"
	ActionDeleteDSC AuditAction = "DELETE_DSC"
)

// AuditLog is append-only: rows are created once and never updated.
type AuditLog struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`

	UserID   string      `gorm:"size:64;index" json:"userId"`
	UserName string      `gorm:"size:255" json:"userName"`
	Action   AuditAction `gorm:"size:32;index;not null" json:"action"`

	DSCSerialNumber string `gorm:"size:128;index" json:"dscSerialNumber"`
	DSCDescription  string `gorm:"size:512" json:"dscDescription"`

	Details datatypes.JSON `json:"details,omitempty"`
}

func (AuditLog) TableName() string { return "audit_logs" }
