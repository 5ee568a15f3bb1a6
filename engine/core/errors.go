package core

import (
	"errors"
)

var (
	ErrStaleHandle       = errors.New("stale handle")
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrSlotOccupied      = errors.New("slot already occupied")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInvalidCapacity   = errors.New("capacity must be a non-zero power of two")
	ErrDeviceLost        = errors.New("device lost")
	ErrWrongBackend      = errors.New("object was created by a different backend")
	ErrFrameState        = errors.New("frame slot is not in the expected state")
	ErrNotRecording      = errors.New("command recorder is not recording")
	ErrSurfaceOutOfDate  = errors.New("surface out of date")
	ErrQueueFull         = errors.New("queue is full")
	ErrQueueEmpty        = errors.New("queue is empty")
	ErrUnknown           = errors.New("unknown")
)
