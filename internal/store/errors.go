package store

import "errors"

// ErrConflict is returned when a package with the same uid is already stored.
var ErrConflict = errors.New("package already exists")

// ErrNotFound is returned when no stored package matches.
var ErrNotFound = errors.New("package not found")
