package model

import "time"

// User owns uploaded documents and conversations. Only the bcrypt hash of
// the password is stored; bcrypt output is always 60 bytes.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:64;not null;uniqueIndex:idx_users_username" json:"username"`
	Email        string    `gorm:"size:128;not null;uniqueIndex:idx_users_email" json:"email"`
	PasswordHash string    `gorm:"size:60;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
