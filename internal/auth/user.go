package auth

import "time"

// User owns jobs; the JWT subject is the user id.
type User struct {
	ID           uint64    `gorm:"primaryKey"`
	Email        string    `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}
