package common

import "net"

// MessageChannel is the message-oriented connection offered by both the
// reliable and the secure channel.
type MessageChannel interface {
	Connect(addr net.Addr) error
	Accept() (net.Addr, error)
	Send(message []byte) error
	Receive() ([]byte, error)
	PeerAddress() string
	PeerPort() int
	LocalAddr() net.Addr
	Close() error
}
