package log

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Common errors that can happen on startup.
var (
	ErrMalformedConfig = newFatalErrorWithReason("ERR_MALFORMED_CONFIG", "config file is malformed")
	ErrBadFlags        = newFatalErrorWithReason("ERR_BAD_FLAGS", "bad CLI flags")
	ErrReadTrace       = newFatalErrorWithReason("ERR_READ_TRACE", "could not read trace")
)

// FatalError describes an error that terminates the process, with a stable code.
type FatalError struct {
	Code   string
	Text   string
	Reason error
}

func newFatalErrorWithReason(code, text string) func(reason error) *FatalError {
	return func(reason error) *FatalError {
		return &FatalError{
			Code:   code,
			Text:   text,
			Reason: reason,
		}
	}
}

func (fe FatalError) Error() string {
	if fe.Reason != nil {
		return fmt.Sprintf("%v: %v", fe.Text, fe.Reason)
	}
	return fe.Text
}

func (fe FatalError) Unwrap() error {
	return fe.Reason
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (fe FatalError) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("code", fe.Code)
	encoder.AddString("error", fe.Error())
	return nil
}
