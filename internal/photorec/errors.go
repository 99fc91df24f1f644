package photorec

import (
	"errors"
	"fmt"
)

// ErrorKind classifies how a recovery session failed.
type ErrorKind string

const (
	// ErrBinaryNotFound means the engine binary could not be resolved.
	ErrBinaryNotFound ErrorKind = "binary_not_found"
	// ErrInsufficientPermissions means the engine reported it could not read
	// the device, regardless of its exit code.
	ErrInsufficientPermissions ErrorKind = "insufficient_permissions"
	// ErrDeviceNotFound means the requested device descriptor is unknown.
	ErrDeviceNotFound ErrorKind = "device_not_found"
	// ErrOutputDirNotWritable means the destination directory could not be
	// created or written.
	ErrOutputDirNotWritable ErrorKind = "output_dir_not_writable"
	// ErrProcessExited means the engine exited with an unexplained non-zero
	// code and no evidence of success.
	ErrProcessExited ErrorKind = "process_exited_unexpectedly"
	// ErrCancelled means the session was cancelled before completing.
	ErrCancelled ErrorKind = "cancelled"
)

// TaskError is the error taxonomy for recovery sessions. Every instance
// carries enough detail to render one human-readable message.
type TaskError struct {
	Kind ErrorKind

	// Name is the missing binary for ErrBinaryNotFound, or the device id for
	// ErrDeviceNotFound.
	Name string
	// Path is the offending directory for ErrOutputDirNotWritable.
	Path string
	// Code is the raw exit code for ErrProcessExited.
	Code int

	wrapped error
}

func (e *TaskError) Error() string {
	switch e.Kind {
	case ErrBinaryNotFound:
		return fmt.Sprintf("recovery engine %q not found", e.Name)
	case ErrInsufficientPermissions:
		return "insufficient permissions to read the device"
	case ErrDeviceNotFound:
		return fmt.Sprintf("device %q not found", e.Name)
	case ErrOutputDirNotWritable:
		return fmt.Sprintf("output directory %q is not writable", e.Path)
	case ErrProcessExited:
		return fmt.Sprintf("recovery engine exited unexpectedly with code %d", e.Code)
	case ErrCancelled:
		return "recovery cancelled"
	default:
		return string(e.Kind)
	}
}

func (e *TaskError) Unwrap() error { return e.wrapped }

// ErrSessionActive is returned by Start while another session is running;
// a controller owns at most one session at a time.
var ErrSessionActive = errors.New("a recovery session is already active")
