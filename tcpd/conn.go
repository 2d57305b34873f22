package tcpd

import (
	"bytes"
	"errors"
	"net"
	"os"
	"syscall"
	"time"
)

const readChunk = 4096

// Options controls how a Conn behaves once configured.
type Options struct {
	// ReadWait bounds how long ReadLine waits for bytes that are not yet
	// available. Must be positive: an expired deadline fails before reading.
	ReadWait time.Duration
	// WriteTimeout bounds a single WriteLine. Zero means no bound.
	WriteTimeout time.Duration
	// MaxLineLength is the longest line accepted, newline included. Longer
	// lines are dropped whole. Zero means no limit.
	MaxLineLength int
	// NoDelay disables send coalescing on transports that support it.
	NoDelay bool
}

// DefaultOptions returns the options used by the relay server.
func DefaultOptions() Options {
	return Options{
		ReadWait:      50 * time.Microsecond,
		WriteTimeout:  time.Second,
		MaxLineLength: 4096,
		NoDelay:       true,
	}
}

// Conn wraps one peer link with a stable identity and exposes line-based,
// non-blocking read and write. A Conn is not safe for concurrent use; use Dup
// to read and write from different goroutines.
type Conn struct {
	conn    net.Conn
	id      uint64
	options Options

	buf     []byte
	scratch []byte
	err     error
	closed  bool

	// Set while the rest of an over-long line is being dropped.
	discarding bool
}

// NewConn wraps conn with the given identity. Call Configure before use.
func NewConn(conn net.Conn, id uint64, options Options) *Conn {
	if options.ReadWait <= 0 {
		options.ReadWait = DefaultOptions().ReadWait
	}
	return &Conn{
		conn:    conn,
		id:      id,
		options: options,
		scratch: make([]byte, readChunk),
	}
}

// ID returns the identity assigned when the connection was accepted.
func (c *Conn) ID() uint64 {
	return c.id
}

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Configure disables send delay and checks that deadlines, which provide
// non-blocking reads and bounded writes, are supported by the transport.
func (c *Conn) Configure() error {
	if c.options.NoDelay {
		if nd, ok := c.conn.(interface{ SetNoDelay(bool) error }); ok {
			if err := nd.SetNoDelay(true); err != nil {
				return &ConfigError{Addr: c.addr(), Err: err}
			}
		}
	}
	if err := c.conn.SetDeadline(time.Time{}); err != nil {
		return &ConfigError{Addr: c.addr(), Err: err}
	}
	return nil
}

// ReadLine returns the next complete line, including its newline, or "" when
// none is available yet. Would-block and reset-by-peer are not errors.
//
// End of stream and other read failures close the connection and return a
// *ReadError once; afterwards ReadLine keeps returning "" with no error.
func (c *Conn) ReadLine() (string, error) {
	if line, ok, err := c.nextLine(); ok {
		return line, err
	}
	if c.closed {
		return "", nil
	}
	if c.err == nil {
		c.fill()
	}
	if line, ok, err := c.nextLine(); ok {
		return line, err
	}

	if c.err != nil {
		err := c.err
		// An unterminated tail is not a message.
		c.buf = nil
		c.Close()
		return "", &ReadError{Addr: c.addr(), Err: err}
	}
	if limit := c.options.MaxLineLength; limit > 0 && !c.discarding && len(c.buf) >= limit {
		// Whatever completes this line puts it over the limit.
		c.buf = c.buf[:0]
		c.discarding = true
		return "", &ReadError{Addr: c.addr(), Err: ErrLineTooLong}
	}
	return "", nil
}

// WriteLine writes all of b to the peer.
func (c *Conn) WriteLine(b []byte) error {
	if c.closed {
		return &WriteError{Addr: c.addr(), Err: net.ErrClosed}
	}
	if c.options.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout)); err != nil {
			return &WriteError{Addr: c.addr(), Err: err}
		}
	}
	// net.Conn writes are unbuffered, a nil error means every byte was
	// handed to the transport.
	if _, err := c.conn.Write(b); err != nil {
		return &WriteError{Addr: c.addr(), Err: err}
	}
	return nil
}

// Dup returns a second handle on the same transport with the same identity
// and its own read buffer.
func (c *Conn) Dup() *Conn {
	return NewConn(c.conn, c.id, c.options)
}

// Closed reports whether this handle has closed its transport.
func (c *Conn) Closed() bool {
	return c.closed
}

// Close closes the underlying transport.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Conn) addr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// nextLine pops the first complete line off the buffer. ok reports whether
// one was consumed; a line over MaxLineLength is consumed but returned as
// ErrLineTooLong.
func (c *Conn) nextLine() (line string, ok bool, err error) {
	if c.discarding {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			c.buf = c.buf[:0]
			return "", false, nil
		}
		c.consume(i + 1)
		c.discarding = false
	}

	i := bytes.IndexByte(c.buf, '\n')
	if i < 0 {
		return "", false, nil
	}
	if limit := c.options.MaxLineLength; limit > 0 && i+1 > limit {
		c.consume(i + 1)
		return "", true, &ReadError{Addr: c.addr(), Err: ErrLineTooLong}
	}
	line = string(c.buf[:i+1])
	c.consume(i + 1)
	return line, true, nil
}

func (c *Conn) consume(n int) {
	m := copy(c.buf, c.buf[n:])
	c.buf = c.buf[:m]
}

func (c *Conn) fill() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.options.ReadWait)); err != nil {
		c.err = err
		return
	}
	n, err := c.conn.Read(c.scratch)
	c.buf = append(c.buf, c.scratch[:n]...)
	if err != nil && !isTransient(err) {
		c.err = err
	}
}

// isTransient reports errors which mean "no data this time".
func isTransient(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ECONNRESET)
}
