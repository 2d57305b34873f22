package identity

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

// Assigner derives the registry identity for a newly accepted connection.
type Assigner interface {
	Assign(endpoint string) uint64
}

// Hash returns a 64-bit digest of the endpoint text. Equal inputs always
// yield equal identities, distinct inputs are not guaranteed to differ.
func Hash(endpoint string) uint64 {
	h, err := blake2b.New(8, nil)
	if err != nil {
		// Only returned for an invalid size or key.
		panic(err)
	}
	h.Write([]byte(endpoint))
	return binary.BigEndian.Uint64(h.Sum(nil))
}

// HashAssigner assigns identities by hashing the remote endpoint.
type HashAssigner struct{}

func (HashAssigner) Assign(endpoint string) uint64 {
	return Hash(endpoint)
}

// Sequence hands out increasing identities starting at 1, ignoring the
// endpoint. Safe for concurrent use.
type Sequence struct {
	last uint64
}

// NewSequence creates a Sequence whose first identity is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

func (s *Sequence) Assign(string) uint64 {
	return atomic.AddUint64(&s.last, 1)
}

// Endpoint renders addr as canonical ip:port text.
func Endpoint(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return fmt.Sprintf("%s:%d", a.IP, a.Port)
	case *net.UDPAddr:
		return fmt.Sprintf("%s:%d", a.IP, a.Port)
	}
	return addr.String()
}

// ByName returns the assigner for a mode name: "hash" or "sequence".
func ByName(name string) (Assigner, error) {
	switch name {
	case "hash":
		return HashAssigner{}, nil
	case "sequence", "":
		return NewSequence(), nil
	}
	return nil, fmt.Errorf("unknown identity mode: %q", name)
}
