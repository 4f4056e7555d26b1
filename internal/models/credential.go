package models

import "time"

// Credential — email/пароль пользователя; храним только argon2id-хэш.
type Credential struct {
	Subject      string    `gorm:"primaryKey;size:64"`
	Email        string    `gorm:"uniqueIndex;size:255;not null"`
	Salt         []byte    `gorm:"not null"`
	PasswordHash []byte    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (Credential) TableName() string { return "credentials" }
