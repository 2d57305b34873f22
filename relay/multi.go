package relay

import (
	"fmt"
	"io"
	"strings"
)

// MultiError keeps track of multiple errors and coerces them into one error.
type MultiError []error

func (e MultiError) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	default:
		errs := []string{}
		for _, err := range e {
			errs = append(errs, err.Error())
		}
		return fmt.Sprintf("%d errors: %s", len(e), strings.Join(errs, "; "))
	}
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e
}

// errOrNil returns nil for an empty MultiError so callers can compare
// against nil.
func (e MultiError) errOrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// MultiCloser keeps track of multiple closers and closes them all as one
// closer.
type MultiCloser []io.Closer

func (c MultiCloser) Close() error {
	errors := MultiError{}
	for _, closer := range c {
		err := closer.Close()
		if err != nil {
			errors = append(errors, err)
		}
	}
	return errors.errOrNil()
}

// PeerError attributes a failure to the peer it happened on.
type PeerError struct {
	ID  uint64
	Op  string
	Err error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %d: %s", e.ID, e.Err)
}

func (e *PeerError) Unwrap() error { return e.Err }
