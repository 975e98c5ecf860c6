package recording

import (
	"errors"
	"fmt"
)

// ErrorCode classifies recording failures.
type ErrorCode int

const (
	CodeDisplayNotFound ErrorCode = iota + 1
	CodeStreamSetupFailed
	CodeCaptureStartFailed
	CodeCaptureStopFailed
	CodeInvalidSampleBuffer
	CodeWindowUnavailable
	CodeCustom
)

func (c ErrorCode) String() string {
	switch c {
	case CodeDisplayNotFound:
		return "display_not_found"
	case CodeStreamSetupFailed:
		return "stream_setup_failed"
	case CodeCaptureStartFailed:
		return "capture_start_failed"
	case CodeCaptureStopFailed:
		return "capture_stop_failed"
	case CodeInvalidSampleBuffer:
		return "invalid_sample_buffer"
	case CodeWindowUnavailable:
		return "window_unavailable"
	case CodeCustom:
		return "custom"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a recording failure. Errors compare equal under errors.Is when
// their codes match, so the Err* values below work as sentinels.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

var (
	ErrDisplayNotFound     = &Error{Code: CodeDisplayNotFound}
	ErrStreamSetupFailed   = &Error{Code: CodeStreamSetupFailed}
	ErrCaptureStartFailed  = &Error{Code: CodeCaptureStartFailed}
	ErrCaptureStopFailed   = &Error{Code: CodeCaptureStopFailed}
	ErrInvalidSampleBuffer = &Error{Code: CodeInvalidSampleBuffer}
	ErrWindowUnavailable   = &Error{Code: CodeWindowUnavailable}
	ErrCustom              = &Error{Code: CodeCustom}
)

var (
	// ErrClosed is returned by control calls on a closed Pipeline or Session.
	ErrClosed = errors.New("recording: closed")

	// ErrUnknownAction is returned for an action outside the Action enum.
	ErrUnknownAction = errors.New("recording: unknown action")
)

func (e *Error) Error() string {
	msg := e.Code.String()
	switch e.Code {
	case CodeDisplayNotFound:
		msg = "display not found"
	case CodeStreamSetupFailed:
		msg = "stream setup failed"
	case CodeCaptureStartFailed:
		msg = "capture start failed"
	case CodeCaptureStopFailed:
		msg = "capture stop failed"
	case CodeInvalidSampleBuffer:
		msg = "invalid sample buffer"
	case CodeWindowUnavailable:
		msg = "window unavailable"
	case CodeCustom:
		msg = "recording error"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// DisplayNotFound reports that the display id could not be resolved.
func DisplayNotFound(id string, err error) *Error {
	return &Error{Code: CodeDisplayNotFound, Reason: id, Err: err}
}

// WindowUnavailable reports that the window id could not be resolved.
func WindowUnavailable(id string, err error) *Error {
	return &Error{Code: CodeWindowUnavailable, Reason: id, Err: err}
}

func StreamSetupFailed(err error) *Error {
	return &Error{Code: CodeStreamSetupFailed, Err: err}
}

func CaptureStartFailed(err error) *Error {
	return &Error{Code: CodeCaptureStartFailed, Err: err}
}

// CaptureStopFailed carries the platform's reason for a stop failure.
func CaptureStopFailed(reason string) *Error {
	return &Error{Code: CodeCaptureStopFailed, Reason: reason}
}

func InvalidSampleBuffer(reason string) *Error {
	return &Error{Code: CodeInvalidSampleBuffer, Reason: reason}
}

func Custom(message string) *Error {
	return &Error{Code: CodeCustom, Reason: message}
}

// AsError converts err to an *Error, wrapping foreign errors as Custom.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{Code: CodeCustom, Err: err}
}
