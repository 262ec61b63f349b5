package transport

import "errors"

var (
	// ErrRemote wraps an error reported by the kernel
	ErrRemote = errors.New("kernel error")

	// ErrProtocol is returned for lines that do not follow the wire format
	ErrProtocol = errors.New("transport protocol error")
)
