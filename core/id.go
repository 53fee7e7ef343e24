package core

import "github.com/google/uuid"

// NewID returns a random (v4) UUID string used for sessions and events.
func NewID() string { return uuid.NewString() }
