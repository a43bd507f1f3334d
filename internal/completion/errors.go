package completion

import (
	"fmt"

	autoreplyErrors "github.com/xandylearning/zulip-sub000/internal/errors"
)

type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Error is returned for every failed Complete call.
type Error struct {
	Kind     Kind
	Attempts int
	Err      error
}

func newError(kind Kind, attempts int, err error) *Error {
	return &Error{Kind: kind, Attempts: attempts, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("completion %s failure after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() []error {
	category := autoreplyErrors.ErrPermanent
	if e.Kind == KindTransient {
		category = autoreplyErrors.ErrTransient
	}
	if e.Err == nil {
		return []error{category}
	}
	return []error{e.Err, category}
}
