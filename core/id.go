package core

import "github.com/google/uuid"

// NewID generates a unique identifier for requests, tasks and events.
func NewID() string { return uuid.NewString() }
