package poller

import "errors"

var (
	ErrInvalidDuration = errors.New("invalid duration")
	errNilRegistry     = errors.New("registry is required")
)
