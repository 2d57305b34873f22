package tchat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shazow/tchat/tcpd"
)

// How long the receiving side waits for data per read.
const clientReadWait = 250 * time.Millisecond

// Client is a console client: it sends each input line to the relay and
// prints every line the relay forwards.
type Client struct {
	raw       net.Conn
	conn      *tcpd.Conn
	connected time.Time
}

// Dial connects to a relay at addr.
func Dial(addr string) (*Client, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	options := tcpd.DefaultOptions()
	options.ReadWait = clientReadWait
	options.MaxLineLength = 0
	conn := tcpd.NewConn(raw, 0, options)
	if err := conn.Configure(); err != nil {
		raw.Close()
		return nil, err
	}

	logger.Debugf("Connected to %s", raw.RemoteAddr())
	return &Client{
		raw:       raw,
		conn:      conn,
		connected: time.Now(),
	}, nil
}

// Run copies lines from in to the relay and from the relay to out. It
// returns when in is exhausted or the relay disconnects.
func (c *Client) Run(in io.Reader, out io.Writer) error {
	received := make(chan error, 1)
	go func() {
		received <- c.receive(c.conn.Dup(), out)
	}()

	sent := make(chan error, 1)
	go func() {
		sent <- c.send(in)
	}()

	select {
	case err := <-sent:
		c.Close()
		<-received
		return err
	case err := <-received:
		c.Close()
		return err
	}
}

// Close disconnects from the relay.
func (c *Client) Close() error {
	err := c.raw.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) send(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := c.conn.WriteLine([]byte(scanner.Text() + "\n")); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (c *Client) receive(conn *tcpd.Conn, out io.Writer) error {
	for {
		line, err := conn.ReadLine()
		if line != "" {
			fmt.Fprintf(out, "<Server> %s\n", strings.TrimSuffix(line, "\n"))
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			fmt.Fprintf(out, "Disconnected from %s, connected %s.\n", c.raw.RemoteAddr(), humanize.Time(c.connected))
			return nil
		case errors.Is(err, net.ErrClosed):
			return nil
		default:
			return err
		}
		if conn.Closed() {
			return nil
		}
	}
}
