// Package transport provides the datagram primitive the reliable channel is
// built on: best-effort send, and receive with a timeout.
package transport

import (
	"errors"
	"net"
	"time"
)

var (
	// ErrTimeout is returned by Receive when no datagram arrived in time.
	ErrTimeout = errors.New("transport: receive timeout")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")

	// ErrNoPeer is returned by Send before ConnectDefault.
	ErrNoPeer = errors.New("transport: no default peer")
)

// Datagram is an unreliable, unordered datagram endpoint.
type Datagram interface {
	// Send sends b to the default peer.
	Send(b []byte) error

	SendTo(b []byte, addr net.Addr) error

	// Receive blocks until a datagram arrives or timeout elapses, in which
	// case it returns ErrTimeout.
	Receive(buf []byte, timeout time.Duration) (int, net.Addr, error)

	// ConnectDefault sets the peer used by Send.
	ConnectDefault(addr net.Addr)

	LocalAddr() net.Addr
	Close() error
}

// SameAddr compares two addresses by network and string form.
func SameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Network() == b.Network() && a.String() == b.String()
}

// SplitAddr returns host and port of addr, or port 0 if it has none.
func SplitAddr(addr net.Addr) (string, int) {
	switch a := addr.(type) {
	case nil:
		return "", 0
	case *net.UDPAddr:
		return a.IP.String(), a.Port
	case PipeAddr:
		return a.Network(), a.Port
	default:
		return a.String(), 0
	}
}
