package relay

import (
	"errors"
	"io"

	"github.com/shazow/rateio"
)

// Returned when a requested peer is not registered.
var ErrMissing = errors.New("peer is not registered")

const rateLimitNotice = "-> Message rejected: Rate limiting is in effect.\n"

// Peer is one connected client as seen by the relay.
type Peer interface {
	io.Closer
	// ID is the registry key and never changes.
	ID() uint64
	// ReadLine returns one complete line or "" without blocking.
	ReadLine() (string, error)
	// WriteLine delivers line to the peer.
	WriteLine(line []byte) error
	// Closed reports whether the peer's transport has been torn down.
	Closed() bool
}

// Batch maps a sender's identity to the line it sent this cycle.
type Batch map[uint64]string

// IterFunc is called for each peer by Registry.Each. Returning an error
// stops the iteration.
type IterFunc func(id uint64, peer Peer) error

type entry struct {
	Peer
	limiter rateio.Limiter
}

// Registry owns the set of live peers, keyed by identity. It is not safe for
// concurrent use; the engine goroutine is its only user.
type Registry struct {
	lookup map[uint64]*entry

	// RateLimit, if set, makes a per-peer line limiter. Lines beyond the
	// limit are dropped and the sender is told so.
	RateLimit func() rateio.Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		lookup: map[uint64]*entry{},
	}
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	return len(r.lookup)
}

// Add registers peer under its identity, replacing any peer already
// registered with the same identity. The replaced peer is returned and is no
// longer owned by the registry.
func (r *Registry) Add(peer Peer) (replaced Peer) {
	id := peer.ID()
	if old, ok := r.lookup[id]; ok {
		replaced = old.Peer
	}
	e := &entry{Peer: peer}
	if r.RateLimit != nil {
		e.limiter = r.RateLimit()
	}
	r.lookup[id] = e
	return replaced
}

// Get returns the peer registered under id.
func (r *Registry) Get(id uint64) (Peer, bool) {
	e, ok := r.lookup[id]
	if !ok {
		return nil, false
	}
	return e.Peer, true
}

// Remove unregisters the peer with the given identity. The peer is not
// closed.
func (r *Registry) Remove(id uint64) error {
	if _, ok := r.lookup[id]; !ok {
		return ErrMissing
	}
	delete(r.lookup, id)
	return nil
}

// Each applies fn to every peer in unspecified order.
func (r *Registry) Each(fn IterFunc) error {
	for id, e := range r.lookup {
		if err := fn(id, e.Peer); err != nil {
			// Abort early
			return err
		}
	}
	return nil
}

// Poll reads at most one line from every peer and returns the non-empty
// ones. Read failures are collected, they do not stop the poll.
func (r *Registry) Poll() (Batch, error) {
	batch := Batch{}
	errs := MultiError{}

	for id, e := range r.lookup {
		line, err := e.ReadLine()
		if err != nil {
			errs = append(errs, &PeerError{ID: id, Op: "read", Err: err})
		}
		if line == "" {
			continue
		}
		if e.limiter != nil {
			if err := e.limiter.Count(1); err != nil {
				errs = append(errs, &PeerError{ID: id, Op: "ratelimit", Err: err})
				if err := e.WriteLine([]byte(rateLimitNotice)); err != nil {
					errs = append(errs, &PeerError{ID: id, Op: "write", Err: err})
				}
				continue
			}
		}
		batch[id] = line
	}

	return batch, errs.errOrNil()
}

// Broadcast writes each line in batch to every peer except its sender and
// returns the number of successful writes. A failed write never prevents
// delivery to the remaining peers.
func (r *Registry) Broadcast(batch Batch) (int, error) {
	delivered := 0
	errs := MultiError{}

	for sender, line := range batch {
		msg := []byte(line)
		for id, e := range r.lookup {
			if id == sender {
				continue
			}
			if err := e.WriteLine(msg); err != nil {
				errs = append(errs, &PeerError{ID: id, Op: "write", Err: err})
				continue
			}
			delivered++
		}
	}

	return delivered, errs.errOrNil()
}
