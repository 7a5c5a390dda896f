package domain

import "errors"

// Sentinel errors shared by the stores and the service layer.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("concurrent modification")
)
