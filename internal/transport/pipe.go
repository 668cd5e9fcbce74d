package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// PipeAddr identifies one end of a Pipe.
type PipeAddr struct {
	ID   int
	Port int
}

func (a PipeAddr) Network() string { return "pipe" }

func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d:%d", a.ID, a.Port) }

// Filter decides whether a datagram written by end from is delivered.
type Filter func(from int, b []byte) bool

// Pipe is an in-memory datagram link between two endpoints built on pion's
// test.Bridge. A Filter can drop datagrams to simulate loss.
type Pipe struct {
	bridge *test.Bridge
	ends   [2]*PipeEnd

	mu     sync.RWMutex
	filter Filter

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPipe creates a connected pair of endpoints, delivered by a background
// goroutine every millisecond.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		stopCh: make(chan struct{}),
	}
	p.ends[0] = newPipeEnd(p, 0, p.bridge.GetConn0())
	p.ends[1] = newPipeEnd(p, 1, p.bridge.GetConn1())

	p.wg.Add(1)
	go p.deliver()
	return p
}

func (p *Pipe) deliver() {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			for p.bridge.Tick() > 0 {
			}
		}
	}
}

// End returns endpoint 0 or 1.
func (p *Pipe) End(id int) *PipeEnd {
	return p.ends[id]
}

func (p *Pipe) SetFilter(filter Filter) {
	p.mu.Lock()
	p.filter = filter
	p.mu.Unlock()
}

func (p *Pipe) allow(from int, b []byte) bool {
	p.mu.RLock()
	filter := p.filter
	p.mu.RUnlock()
	return filter == nil || filter(from, b)
}

func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		p.ends[0].Close()
		p.ends[1].Close()
	})
	return nil
}

// PipeEnd implements Datagram on one side of a Pipe. Every datagram it
// receives comes from the other side.
type PipeEnd struct {
	pipe  *Pipe
	id    int
	conn  net.Conn
	inbox chan []byte

	closeCh   chan struct{}
	closeOnce sync.Once
}

func newPipeEnd(p *Pipe, id int, conn net.Conn) *PipeEnd {
	end := &PipeEnd{
		pipe:    p,
		id:      id,
		conn:    conn,
		inbox:   make(chan []byte, 256),
		closeCh: make(chan struct{}),
	}
	go end.readLoop()
	return end
}

func (e *PipeEnd) readLoop() {
	buf := make([]byte, MaxPipeDatagram)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case e.inbox <- data:
		case <-e.closeCh:
			return
		default:
			// receive buffer full, drop like a socket would
		}
	}
}

// MaxPipeDatagram is the largest datagram a PipeEnd delivers.
const MaxPipeDatagram = 65535

func (e *PipeEnd) ConnectDefault(net.Addr) {}

func (e *PipeEnd) Send(b []byte) error {
	select {
	case <-e.closeCh:
		return ErrClosed
	default:
	}

	if !e.pipe.allow(e.id, b) {
		return nil
	}

	data := make([]byte, len(b))
	copy(data, b)
	if _, err := e.conn.Write(data); err != nil {
		return ErrClosed
	}
	return nil
}

// SendTo ignores addr since a pipe end has a single peer.
func (e *PipeEnd) SendTo(b []byte, _ net.Addr) error {
	return e.Send(b)
}

func (e *PipeEnd) Receive(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-e.inbox:
		return copy(buf, data), e.peerAddr(), nil
	case <-timer.C:
		return 0, nil, ErrTimeout
	case <-e.closeCh:
		return 0, nil, ErrClosed
	}
}

func (e *PipeEnd) LocalAddr() net.Addr {
	return PipeAddr{ID: e.id, Port: 1000 + e.id}
}

func (e *PipeEnd) peerAddr() net.Addr {
	return PipeAddr{ID: 1 - e.id, Port: 1000 + (1 - e.id)}
}

func (e *PipeEnd) Close() error {
	e.closeOnce.Do(func() {
		close(e.closeCh)
		e.conn.Close()
	})
	return nil
}

var _ Datagram = (*PipeEnd)(nil)
