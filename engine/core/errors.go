package core

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrInvalidHandle        = errors.New("invalid or already released handle")
	ErrSlotOutOfRange       = errors.New("binding slot out of range")
	ErrUnsupportedUsage     = errors.New("resource bind flags do not permit the requested state")
	ErrInvalidBindFlags     = errors.New("bind flags not valid for resource class")
	ErrInvalidTransition    = errors.New("invalid resource transition")
	ErrNotTerminal          = errors.New("resource is not in a terminal state")
	ErrStackEmpty           = errors.New("binding stack is empty")
	ErrNotRecording         = errors.New("command buffer is not recording")
	ErrCorruptBlob          = errors.New("corrupt pipeline cache blob")
	ErrCacheMismatch        = errors.New("pipeline cache rejected by device")
	ErrCacheMiss            = errors.New("pipeline cache miss")
	ErrNotReady             = errors.New("device not ready")
	ErrBackendNotAvailable  = errors.New("renderer backend not available")
	ErrNoNativePipeline     = errors.New("backend has no native pipeline for this operation")
	ErrInvalidDescriptor    = errors.New("invalid descriptor")
	ErrInvalidCommandBuffer = errors.New("command buffer cannot be used in its current state")
	ErrOutOfBounds          = errors.New("region out of bounds")
	ErrUnknown              = errors.New("unknown")
)

var panicOnMisuse atomic.Bool

// SetPanicOnMisuse turns programming errors reported through Misuse into panics.
func SetPanicOnMisuse(enabled bool) {
	panicOnMisuse.Store(enabled)
}

// Misuse wraps sentinel with a formatted message, logs it and returns it.
func Misuse(sentinel error, format string, args ...interface{}) error {
	// Report the caller of Misuse as the log location.
	getLogger().Logger.Helper()
	err := fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
	LogError("%s", err)
	if panicOnMisuse.Load() {
		panic(err)
	}
	return err
}
