/*
Package relay is a transport-agnostic broadcast engine: it owns a registry of
peers, polls each of them for a line without blocking on any single one, and
writes every received line to all other peers.

This package should not know anything about sockets. Peers are anything that
can read and write lines; the tcpd package provides the TCP implementation.

All registry state is owned by the goroutine running Engine.Serve (or calling
Engine.Step). New peers arrive through Engine.Handoff, which is safe to call
from one other goroutine.
*/
package relay
