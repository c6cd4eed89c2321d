package client

import "errors"

// Client errors.
var (
	ErrClientClosed      = errors.New("client is closed")
	ErrNotReady          = errors.New("client not ready")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrAuthRejected      = errors.New("authentication rejected")
	ErrUnexpectedResult  = errors.New("unexpected result")
	ErrAlreadyHandshaken = errors.New("handshake already done")
)
