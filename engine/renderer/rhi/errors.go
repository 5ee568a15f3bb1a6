package rhi

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// CreationError is returned when the backend fails to create a native object.
// It is never retried internally.
type CreationError struct {
	Subject string
	// Native result code, backend specific.
	Code    int32
	Message string
	Err     error
}

func (e *CreationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("failed to create %s: %s", e.Subject, e.Message)
	}
	return fmt.Sprintf("failed to create %s: code %d", e.Subject, e.Code)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

// RuntimeError covers recording, submission, wait and present failures.
type RuntimeError struct {
	Op      string
	Code    int32
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: code %d", e.Op, e.Code)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// SuitabilityError means no adapter, queue or format satisfies the minimum
// requirements. Fatal at startup.
type SuitabilityError struct {
	Reason string
}

func (e *SuitabilityError) Error() string {
	return "no suitable device: " + e.Reason
}

// IsDeviceLost reports whether err means the device is gone for good.
func IsDeviceLost(err error) bool {
	return errors.Is(err, core.ErrDeviceLost)
}

// MustBackend downcasts a neutral object to its backend type. A mismatch
// means an object from one backend reached another and is a programming error.
func MustBackend[T any](obj interface{}) T {
	v, ok := obj.(T)
	if !ok {
		var want T
		panic(fmt.Sprintf("%s: got %T, want %T", core.ErrWrongBackend, obj, want))
	}
	return v
}
