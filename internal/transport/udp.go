package transport

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
)

// UDP implements Datagram on a net.PacketConn.
type UDP struct {
	conn net.PacketConn
	log  log.FieldLogger

	mu   sync.RWMutex
	peer net.Addr

	// readMu serializes Receive so read deadlines do not interleave.
	readMu sync.Mutex
}

// ResolveUDPAddr resolves address and port into a UDP address.
func ResolveUDPAddr(address string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, oops.Wrapf(err, "resolve %s:%d", address, port)
	}
	return addr, nil
}

// Bind listens on address and port. An empty address binds all interfaces and
// port 0 picks an ephemeral port.
func Bind(address string, port int) (*UDP, error) {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, oops.Wrapf(err, "bind %s:%d", address, port)
	}
	udp := NewUDP(conn)
	udp.log.WithField("local", conn.LocalAddr().String()).Info("Bound UDP socket")
	return udp, nil
}

func NewUDP(conn net.PacketConn) *UDP {
	return &UDP{
		conn: conn,
		log:  log.WithField("component", "transport-udp"),
	}
}

func (u *UDP) ConnectDefault(addr net.Addr) {
	u.mu.Lock()
	u.peer = addr
	u.mu.Unlock()
}

func (u *UDP) Send(b []byte) error {
	u.mu.RLock()
	peer := u.peer
	u.mu.RUnlock()

	if peer == nil {
		return ErrNoPeer
	}
	return u.SendTo(b, peer)
}

func (u *UDP) SendTo(b []byte, addr net.Addr) error {
	if _, err := u.conn.WriteTo(b, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return oops.Wrapf(err, "write %d bytes to %v", len(b), addr)
	}
	return nil
}

func (u *UDP) Receive(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	u.readMu.Lock()
	defer u.readMu.Unlock()

	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, ErrClosed
		}
		return 0, nil, oops.Wrapf(err, "set read deadline")
	}

	n, addr, err := u.conn.ReadFrom(buf)
	if err != nil {
		if e, ok := err.(net.Error); ok && e.Timeout() {
			return 0, nil, ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, ErrClosed
		}
		return 0, nil, oops.Wrapf(err, "read from UDP")
	}
	return n, addr, nil
}

func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) Close() error {
	return u.conn.Close()
}

var _ Datagram = (*UDP)(nil)
