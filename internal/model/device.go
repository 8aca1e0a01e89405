package model

import "time"

// Device represents a device the user has signed in from
type Device struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Name          *string    `json:"name,omitempty"`
	UserAgent     *string    `json:"userAgent,omitempty"`
	IsTrusted     bool       `json:"isTrusted"`
	SessionActive bool       `json:"sessionActive"`
	CompromisedAt *time.Time `json:"compromisedAt,omitempty"`
	LastActivity  time.Time  `json:"lastActivity"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
