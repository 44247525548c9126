package server

import "errors"

var (
	ErrInvalidPort   = errors.New("port must be between 1 and 65535")
	ErrInvalidConfig = errors.New("invalid listen config")
	ErrServerClosed  = errors.New("server closed")
	ErrConnClosed    = errors.New("connection closed")
	ErrBufferFull    = errors.New("message buffer full")

	// ErrWouldBlock is returned by sockets when the operation cannot make progress without blocking.
	ErrWouldBlock = errors.New("operation would block")
)
