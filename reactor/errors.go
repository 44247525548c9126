package reactor

import "errors"

var (
	ErrLoopClosed      = errors.New("event loop closed")
	ErrAlreadyAttached = errors.New("fd already attached")
	ErrNotAttached     = errors.New("fd not attached")
)
