package model

import (
	"time"
)

// UserStatus represents the status of a user account
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusLocked   UserStatus = "locked"
	UserStatusDisabled UserStatus = "disabled"
)

// User is the slice of the account record this service reads
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Status    UserStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// IsActive checks if the user account is active
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// KBAProfile is a user's enrolled security question.
// AnswerDigests hold salted hashes only; the plaintext answer is never stored.
type KBAProfile struct {
	UserID        string    `json:"userId"`
	Email         string    `json:"-"`
	Question      string    `json:"question"`
	Options       []string  `json:"options"`
	AnswerDigests []string  `json:"-"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
