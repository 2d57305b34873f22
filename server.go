package tchat

import (
	"github.com/shazow/tchat/metrics"
	"github.com/shazow/tchat/relay"
	"github.com/shazow/tchat/tcpd"
)

// Server is the bridge between the tcpd listener and the relay engine.
type Server struct {
	*relay.Engine
	listener *tcpd.Listener
}

// NewServer creates a Server on top of an existing listener.
func NewServer(listener *tcpd.Listener, config relay.Config) *Server {
	s := &Server{
		Engine:   relay.NewEngine(config),
		listener: listener,
	}
	listener.HandlerFunc = s.handoff
	return s
}

// SetMetrics records listener and engine activity on m.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.Engine.SetMetrics(m)
	s.listener.Metrics = m
}

// Serve relays between accepted connections until the listener is closed.
func (s *Server) Serve() error {
	go s.Engine.Serve()
	return s.listener.Serve()
}

// Close stops accepting connections and disconnects every peer.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.Engine.Close()
	return err
}

func (s *Server) handoff(conn *tcpd.Conn) {
	if err := s.Handoff(conn); err != nil {
		logger.Warningf("[%s] Dropped connection: %s", conn.RemoteAddr(), err)
		conn.Close()
	}
}
