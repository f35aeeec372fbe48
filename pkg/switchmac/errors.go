package switchmac

import (
	"errors"
)

var (
	// ErrInvalidArgument reports a missing required argument. It is a
	// programming error and is never retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSourceUnavailable reports that the table could not be read, including
	// queries abandoned after the bridge timeout.
	ErrSourceUnavailable = errors.New("switch MAC table unavailable")
	// ErrUnknownAdapter is returned by Open for unregistered adapter names.
	ErrUnknownAdapter = errors.New("unknown switch MAC adapter")
	// ErrAdapterExists is returned by Register for a duplicate name.
	ErrAdapterExists = errors.New("switch MAC adapter already registered")
)

// Integer results of the bridge calls, for callers that speak the driver's
// status-code convention.
const (
	CodeOK                = 0
	CodeInvalidArgument   = -22
	CodeSourceUnavailable = -5
)

// Code maps an error returned by the bridge to its status code.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	default:
		return CodeSourceUnavailable
	}
}
