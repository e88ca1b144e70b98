package bendload

import (
	"github.com/pkg/errors"
)

var (
	// ErrDoRequest marks a failure to issue an HTTP request at all, before any
	// status code was received. Always treated as transient by the transfer
	// transport.
	ErrDoRequest = errors.New("DoRequestFailed")
	// ErrReadResponse marks a failure while reading a response body.
	ErrReadResponse = errors.New("ReadResponseFailed")

	ErrPlaceholderCount = errors.New("bendload: wrong placeholder count")
)
