package tcpd

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// pipe returns both ends of a loopback TCP connection.
func pipe(t *testing.T) (server net.Conn, client net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			t.Error(err)
		}
		accepted <- conn
	}()

	client, err = net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server = <-accepted
	if server == nil {
		t.FailNow()
	}
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func newTestConn(t *testing.T, options Options) (*Conn, net.Conn) {
	t.Helper()
	server, client := pipe(t)
	c := NewConn(server, 42, options)
	if err := c.Configure(); err != nil {
		t.Fatal(err)
	}
	return c, client
}

// readLineWithin polls c until a line or an error shows up.
func readLineWithin(t *testing.T, c *Conn, d time.Duration) (string, error) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		line, err := c.ReadLine()
		if line != "" || err != nil {
			return line, err
		}
	}
	t.Fatalf("no line within %v", d)
	return "", nil
}

func TestReadLineNoData(t *testing.T) {
	c, _ := newTestConn(t, DefaultOptions())

	for i := 0; i < 2; i++ {
		start := time.Now()
		line, err := c.ReadLine()
		if err != nil {
			t.Fatalf("Poll %d returned error: %v", i, err)
		}
		if line != "" {
			t.Errorf("Poll %d got %q; expected nothing", i, line)
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("Poll %d blocked for %v", i, elapsed)
		}
	}
}

func TestReadLinePartial(t *testing.T) {
	c, client := newTestConn(t, DefaultOptions())

	if _, err := client.Write([]byte("hel")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if line, err := c.ReadLine(); line != "" || err != nil {
		t.Errorf("Got %q, %v; expected no line yet", line, err)
	}

	if _, err := client.Write([]byte("lo\nwor")); err != nil {
		t.Fatal(err)
	}
	line, err := readLineWithin(t, c, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if expected := "hello\n"; line != expected {
		t.Errorf("Got %q; expected %q", line, expected)
	}
}

func TestReadLineOnePerCall(t *testing.T) {
	c, client := newTestConn(t, DefaultOptions())

	if _, err := client.Write([]byte("a\nb\n")); err != nil {
		t.Fatal(err)
	}

	for _, expected := range []string{"a\n", "b\n"} {
		line, err := readLineWithin(t, c, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if line != expected {
			t.Errorf("Got %q; expected %q", line, expected)
		}
	}
}

func TestReadLineEndOfStream(t *testing.T) {
	c, client := newTestConn(t, DefaultOptions())

	client.Write([]byte("bye\n"))
	client.Close()

	line, err := readLineWithin(t, c, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if line != "bye\n" {
		t.Errorf("Got %q; expected %q", line, "bye\n")
	}

	_, err = readLineWithin(t, c, time.Second)
	var readErr *ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("Got %v; expected *ReadError", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("Got %v; expected EOF", err)
	}
	if !c.Closed() {
		t.Error("Conn not closed after end of stream")
	}

	line, err = c.ReadLine()
	if line != "" || err != nil {
		t.Errorf("Got %q, %v from closed conn; expected nothing", line, err)
	}
}

func expectLine(t *testing.T, c *Conn, expected string) {
	t.Helper()
	line, err := readLineWithin(t, c, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if line != expected {
		t.Errorf("Got %q; expected %q", line, expected)
	}
}

func expectTooLong(t *testing.T, c *Conn) {
	t.Helper()
	_, err := readLineWithin(t, c, time.Second)
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("Got %v; expected ErrLineTooLong", err)
	}
	if c.Closed() {
		t.Error("Conn closed after long line")
	}
}

func TestReadLineTooLong(t *testing.T) {
	options := DefaultOptions()
	options.MaxLineLength = 8
	c, client := newTestConn(t, options)

	client.Write([]byte("0123456789abcdef"))
	expectTooLong(t, c)

	// The rest of the dropped line is not a message of its own.
	client.Write([]byte("TAIL\n"))
	client.Write([]byte("ok\n"))
	expectLine(t, c, "ok\n")

	client.Write([]byte("1234567\n"))
	expectLine(t, c, "1234567\n")
}

func TestReadLineTooLongTerminated(t *testing.T) {
	options := DefaultOptions()
	options.MaxLineLength = 8
	c, client := newTestConn(t, options)

	client.Write([]byte("0123456789abcdef\nok\n"))
	expectTooLong(t, c)
	expectLine(t, c, "ok\n")

	client.Write([]byte("12345678\n"))
	expectTooLong(t, c)
	client.Write([]byte("next\n"))
	expectLine(t, c, "next\n")
}

func TestWriteLine(t *testing.T) {
	c, client := newTestConn(t, DefaultOptions())

	if err := c.WriteLine([]byte("hi there\n")); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	actual, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if expected := "hi there\n"; actual != expected {
		t.Errorf("Got %q; expected %q", actual, expected)
	}
}

func TestWriteLineClosed(t *testing.T) {
	c, _ := newTestConn(t, DefaultOptions())
	c.Close()

	err := c.WriteLine([]byte("x\n"))
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Got %v; expected *WriteError", err)
	}
	if !errors.Is(err, net.ErrClosed) {
		t.Errorf("Got %v; expected net.ErrClosed", err)
	}
}

func TestDup(t *testing.T) {
	c, client := newTestConn(t, DefaultOptions())
	dup := c.Dup()

	if dup.ID() != c.ID() {
		t.Errorf("Got id %d; expected %d", dup.ID(), c.ID())
	}

	client.Write([]byte("to the dup\n"))
	line, err := readLineWithin(t, dup, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if line != "to the dup\n" {
		t.Errorf("Got %q", line)
	}
	if line, _ := c.ReadLine(); line != "" {
		t.Errorf("Original handle saw %q; buffers should be separate", line)
	}
}

var errNoDeadline = errors.New("deadlines not supported")

type stubbornConn struct {
	net.Conn
	closed bool
}

func (c *stubbornConn) SetDeadline(time.Time) error { return errNoDeadline }
func (c *stubbornConn) RemoteAddr() net.Addr       { return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1} }
func (c *stubbornConn) Close() error {
	c.closed = true
	return nil
}

func TestConfigureFails(t *testing.T) {
	c := NewConn(&stubbornConn{}, 1, DefaultOptions())

	err := c.Configure()
	var configErr *ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("Got %v; expected *ConfigError", err)
	}
	if !errors.Is(err, errNoDeadline) {
		t.Errorf("Got %v; expected wrapped errNoDeadline", err)
	}
}
