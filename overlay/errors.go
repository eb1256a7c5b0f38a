package overlay

import (
	"errors"
	"fmt"
)

// InputErrorKind names the reason an analysis was rejected up front.
type InputErrorKind string

const (
	ErrKindEmptySet         InputErrorKind = "empty_set"
	ErrKindMissingAttribute InputErrorKind = "missing_attribute"
	ErrKindTooManyValues    InputErrorKind = "too_many_values"
	ErrKindInvalidGeometry  InputErrorKind = "invalid_geometry"
)

// InputError is fatal to a run and is returned before any overlay work.
type InputError struct {
	Kind   InputErrorKind
	Set    string
	Detail string
}

func (e *InputError) Error() string {
	if e.Set != "" {
		return fmt.Sprintf("overlay: %s (%s set): %s", e.Kind, e.Set, e.Detail)
	}
	return fmt.Sprintf("overlay: %s: %s", e.Kind, e.Detail)
}

func newInputError(kind InputErrorKind, set, format string, args ...any) *InputError {
	return &InputError{Kind: kind, Set: set, Detail: fmt.Sprintf(format, args...)}
}

// IsInputError reports whether err wraps an *InputError and returns it.
func IsInputError(err error) (*InputError, bool) {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// GeometryError is a recoverable failure on a single candidate pair. The
// pair contributes nothing and the run continues.
type GeometryError struct {
	BeforeIndex int
	AfterIndex  int
	Err         error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("overlay: pair (before=%d, after=%d): %v", e.BeforeIndex, e.AfterIndex, e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }
