package types

import "errors"

// Record-related errors
var (
	// ErrNoKeyColumn is returned when a record type declares no primary key column
	ErrNoKeyColumn = errors.New("record type has no primary key column")

	// ErrMissingKey is returned when a record carries no value for its key column
	ErrMissingKey = errors.New("record is missing its key")
)
