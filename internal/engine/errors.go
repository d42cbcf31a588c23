package engine

import "errors"

var (
	ErrDisabled  = errors.New("engine disabled")
	ErrStopped   = errors.New("engine stopped")
	ErrQueueFull = errors.New("engine queue full")
	ErrUnknownOp = errors.New("unknown engine op")
)
