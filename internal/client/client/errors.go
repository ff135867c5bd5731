package client

import "errors"

var (
	ErrUnavailable = errors.New("server unavailable")
	ErrRejected    = errors.New("command rejected")
	ErrClosed      = errors.New("connection closed")
)
