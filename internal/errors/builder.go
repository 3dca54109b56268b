package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorBuilder accumulates a cause, a user facing hint and reportable details
// before the error is marked with one of the sentinel categories.
type ErrorBuilder struct {
	err     error
	msg     string
	hint    string
	details map[string]any
}

// NewError starts a builder from a fresh message.
func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{
		err: errors.New(msg),
		msg: msg,
	}
}

// NewErrorf starts a builder from a formatted message.
func NewErrorf(format string, args ...any) *ErrorBuilder {
	msg := fmt.Sprintf(format, args...)
	return &ErrorBuilder{
		err: errors.New(msg),
		msg: msg,
	}
}

// WithError wraps an existing error.
func WithError(err error) *ErrorBuilder {
	if err == nil {
		err = errors.New("unknown error")
	}
	return &ErrorBuilder{
		err: err,
		msg: err.Error(),
	}
}

func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.msg = msg
	b.err = errors.Wrap(b.err, msg)
	return b
}

func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.hint = hint
	return b
}

func (b *ErrorBuilder) WithHintf(format string, args ...any) *ErrorBuilder {
	b.hint = fmt.Sprintf(format, args...)
	return b
}

func (b *ErrorBuilder) WithReportableDetails(details map[string]any) *ErrorBuilder {
	if b.details == nil {
		b.details = make(map[string]any, len(details))
	}
	for k, v := range details {
		b.details[k] = v
	}
	return b
}

// Mark finalizes the builder and tags the error with the given category.
func (b *ErrorBuilder) Mark(reference error) error {
	err := b.err
	if b.hint != "" {
		err = errors.WithHint(err, b.hint)
	}
	if len(b.details) > 0 {
		err = &detailedError{cause: err, details: b.details}
	}
	return errors.Mark(err, reference)
}

// detailedError carries key/value context that is safe to return to clients.
type detailedError struct {
	cause   error
	details map[string]any
}

func (e *detailedError) Error() string { return e.cause.Error() }
func (e *detailedError) Unwrap() error { return e.cause }
func (e *detailedError) Cause() error  { return e.cause }

// GetReportableDetails collects the details attached anywhere in the chain.
func GetReportableDetails(err error) map[string]any {
	out := map[string]any{}
	for e := err; e != nil; e = errors.UnwrapOnce(e) {
		if d, ok := e.(*detailedError); ok {
			for k, v := range d.details {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
		}
	}
	return out
}

// GetHint returns the outermost user facing hint, if any.
func GetHint(err error) string {
	hints := errors.GetAllHints(err)
	if len(hints) == 0 {
		return ""
	}
	return hints[0]
}
