package tcpd

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/shazow/tchat/identity"
	"github.com/shazow/tchat/metrics"
)

// Listener accepts peer connections, assigns them an identity, configures
// them, and passes each to HandlerFunc from a single goroutine.
type Listener struct {
	net.Listener
	Options  Options
	Assigner identity.Assigner
	Metrics  *metrics.Metrics

	HandlerFunc func(conn *Conn)

	closeOnce sync.Once
	done      chan struct{}
}

// Listen makes a TCP listener socket.
func Listen(laddr string) (*Listener, error) {
	socket, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}
	return NewListener(socket), nil
}

// NewListener wraps an existing listener with default options and sequential
// identities.
func NewListener(l net.Listener) *Listener {
	return &Listener{
		Listener: l,
		Options:  DefaultOptions(),
		Assigner: identity.NewSequence(),
		done:     make(chan struct{}),
	}
}

// Close stops Serve and closes the socket.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.Listener.Close()
	})
	return err
}

func (l *Listener) handleConn(conn net.Conn) (*Conn, error) {
	id := l.Assigner.Assign(identity.Endpoint(conn.RemoteAddr()))
	c := NewConn(conn, id, l.Options)
	if err := c.Configure(); err != nil {
		return nil, err
	}
	return c, nil
}

// Serve accepts connections until the listener is closed. Connections that
// fail to configure are closed and never reach HandlerFunc.
func (l *Listener) Serve() error {
	defer l.Close()

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-l.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			logger.Errorf("Failed to accept connection: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		c, err := l.handleConn(conn)
		if err != nil {
			logger.Warningf("Rejected connection: %v", err)
			l.Metrics.Rejected()
			conn.Close()
			continue
		}
		l.Metrics.Accepted()
		logger.Infof("[%s] Connected as %d", conn.RemoteAddr(), c.ID())

		if l.HandlerFunc == nil {
			c.Close()
			continue
		}
		l.HandlerFunc(c)
	}
}
