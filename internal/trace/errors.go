package trace

import (
	"errors"
	"fmt"
)

// DocumentStep marks a FormatError that is not tied to a single state.
const DocumentStep = -1

// FormatError reports a malformed or unsupported trace.
//
// Step is the index of the offending state, or DocumentStep for problems in
// the metadata or document structure. Field names the variable or metadata
// key involved, when there is one.
type FormatError struct {
	Step    int
	Field   string
	Message string
	Err     error
}

func (e *FormatError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	switch {
	case e.Step >= 0 && e.Field != "":
		return fmt.Sprintf("trace format: step %d: %s: %s", e.Step, e.Field, msg)
	case e.Step >= 0:
		return fmt.Sprintf("trace format: step %d: %s", e.Step, msg)
	case e.Field != "":
		return fmt.Sprintf("trace format: %s: %s", e.Field, msg)
	default:
		return "trace format: " + msg
	}
}

func (e *FormatError) Unwrap() error { return e.Err }

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

func docError(field, format string, args ...any) *FormatError {
	return &FormatError{Step: DocumentStep, Field: field, Message: fmt.Sprintf(format, args...)}
}

func stepError(step int, field string, err error) *FormatError {
	return &FormatError{Step: step, Field: field, Err: err}
}
