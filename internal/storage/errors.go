package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ErrCorruptData is returned when a storage file cannot be parsed
var ErrCorruptData = errors.New("corrupt storage data")
