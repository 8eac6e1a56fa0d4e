package users

import "time"

// User is a portal account. The portal's CRUD screens manage these
// elsewhere; here they only exist so people can log in and chat.
type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string `gorm:"type:varchar(255);not null"`
	Role         string `gorm:"type:varchar(16);index;not null"` // client / designer / admin
	DisplayName  string `gorm:"type:varchar(128);not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (User) TableName() string { return "users" }
