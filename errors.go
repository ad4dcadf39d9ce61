package styx

import "errors"

// Format errors describe invalid data rather than a failed operation, and
// never wrap an I/O cause.
var (
	ErrNotDatabase      = errors.New("not a valid database")
	ErrMalformed        = errors.New("malformed value")
	ErrCorrupt          = errors.New("corrupt store")
	ErrUnsupportedValue = errors.New("unsupported value")
	ErrNilKey           = errors.New("nil key")
	ErrNoSpace          = errors.New("no space left in region")
)
