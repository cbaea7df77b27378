package extract

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidThreshold is returned for thresholds outside [0,1] or NaN.
var ErrInvalidThreshold = errors.New("confidence threshold must be within [0, 1]")

// DecodeError reports image bytes that could not be read as a raster image.
// The recognizer is never invoked when decoding fails.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode image: %s: %v", e.Reason, e.Err)
	}
	return "decode image: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RecognizerError reports a failed, cancelled or timed out recognizer call.
type RecognizerError struct {
	Backend string
	Err     error
}

func (e *RecognizerError) Error() string {
	return fmt.Sprintf("recognizer %s: %v", e.Backend, e.Err)
}

func (e *RecognizerError) Unwrap() error { return e.Err }

// Timeout reports whether the call was abandoned because of a deadline.
func (e *RecognizerError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsDecodeError reports whether err is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsRecognizerError reports whether err is or wraps a RecognizerError.
func IsRecognizerError(err error) bool {
	var re *RecognizerError
	return errors.As(err, &re)
}
