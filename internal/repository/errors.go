package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidTransition indicates a status update would move a deployment
// backward through its state machine.
var ErrInvalidTransition = errors.New("repository: invalid status transition")
