package models

import (
	"time"
)

// DSCStatus — текущая "опека" токена.
type DSCStatus string

const (
	StatusStorage      DSCStatus = "storage"
	StatusWithEmployee DSCStatus = "with-employee"
	StatusWithClient   DSCStatus = "with-client"
)

func (s DSCStatus) Valid() bool {
	switch s {
	case StatusStorage, StatusWithEmployee, StatusWithClient:
		return true
	}
	return false
}

const (
	MinMainBox = 1
	MaxMainBox = 8
)

// Location is a physical slot: main box 1..8, sub box 'a'..'i'.
type Location struct {
	MainBox int    `gorm:"not null;default:1" json:"mainBox"`
	SubBox  string `gorm:"size:1;not null;default:'a'" json:"subBox"`
}

func (l Location) Valid() bool {
	if l.MainBox < MinMainBox || l.MainBox > MaxMainBox {
		return false
	}
	return len(l.SubBox) == 1 && l.SubBox[0] >= 'a' && l.SubBox[0] <= 'i'
}

type DSC struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	SerialNumber string    `gorm:"uniqueIndex;size:128;not null" json:"serialNumber"`
	Description  string    `gorm:"size:512" json:"description"`
	ExpiryDate   time.Time `gorm:"index;not null" json:"expiryDate"`

	Location Location  `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	Status   DSCStatus `gorm:"size:32;index;not null;default:'storage'" json:"status"`

	// at most one DSC per holder: NULLs are not compared by the unique index
	CurrentHolderID *string `gorm:"uniqueIndex;size:64" json:"currentHolderId,omitempty"`
	ClientName      *string `gorm:"size:255" json:"clientName,omitempty"`
	ClientDetails   *string `gorm:"type:text" json:"clientDetails,omitempty"`
}

func (DSC) TableName() string { return "dscs" }

// Clone returns a deep copy; pointer fields are not shared.
func (d DSC) Clone() DSC {
	c := d
	c.CurrentHolderID = cloneString(d.CurrentHolderID)
	c.ClientName = cloneString(d.ClientName)
	c.ClientDetails = cloneString(d.ClientDetails)
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// DateLayout is the wire format of calendar dates (expiry).
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// TruncateDate drops the time of day, keeping the calendar date in UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
