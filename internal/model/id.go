package model

import "github.com/google/uuid"

// NewID returns a random 128-bit (UUIDv4) identity.
func NewID() string {
	return uuid.NewString()
}
