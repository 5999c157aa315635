package storage

import "errors"

// ErrNotFound is returned when a key or conversation does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when creating an entity that already exists.
var ErrConflict = errors.New("storage: conflict")
