package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Preference is a single persisted key/value pair.
type Preference struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
