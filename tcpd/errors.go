package tcpd

import (
	"errors"
	"fmt"
)

// The error returned when a peer sends more than the maximum line length
// without a newline. The partial line is discarded.
var ErrLineTooLong = errors.New("line too long")

// ConfigError is returned when a connection cannot be put into relay mode.
// Such connections are closed and never handed off.
type ConfigError struct {
	Addr string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configure %s: %s", e.Addr, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ReadError is a read failure other than would-block or reset-by-peer.
type ReadError struct {
	Addr string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %s", e.Addr, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError is a failure to deliver bytes to a peer.
type WriteError struct {
	Addr string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %s", e.Addr, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
