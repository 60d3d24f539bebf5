package repository

import "errors"

var (
	// ErrNotFound is returned when no customer is bound to a page id.
	ErrNotFound = errors.New("repository: not found")
	// ErrLeaseHeld is returned when another turn holds the conversation lease.
	ErrLeaseHeld = errors.New("repository: lease held by another owner")
)
