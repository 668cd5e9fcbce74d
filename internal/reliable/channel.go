// Package reliable turns a best-effort datagram endpoint into an ordered,
// complete and acknowledged message channel.
//
// A message is announced with a LENGTH packet and then sent as fragments of
// at most PacketSize bytes, each retransmitted by its own goroutine until the
// peer acknowledges it. A single read loop per channel dispatches every
// incoming datagram, so one send and one receive may be in flight at a time.
package reliable

import (
	"errors"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Pablu23/Sudp/internal/common"
	"github.com/Pablu23/Sudp/internal/transport"
)

var (
	errExhausted    = errors.New("retries exhausted")
	errPeerFinished = errors.New("peer finished session")
)

type Channel struct {
	conn    transport.Datagram
	options *Options
	log     log.FieldLogger

	mu             sync.Mutex
	peer           net.Addr
	finished       chan struct{}
	outgoing       *Message
	incoming       *Message
	received       *Message
	awaitingLength bool

	// sending is the outgoing message while its fragments are in flight.
	// Acks outside that window are stale.
	sending *Message

	handshakes    chan net.Addr
	handshakeAcks chan struct{}
	lengths       chan uint32
	lengthAcks    chan struct{}

	closeCh   chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a channel on conn and starts reading from it. The channel owns
// conn and closes it on Close.
func New(conn transport.Datagram, opts ...func(*Options)) (*Channel, error) {
	options := NewDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	c := &Channel{
		conn:          conn,
		options:       options,
		log:           options.Logger.WithField("local", conn.LocalAddr().String()),
		handshakes:    make(chan net.Addr, 1),
		handshakeAcks: make(chan struct{}, 1),
		lengths:       make(chan uint32, 1),
		lengthAcks:    make(chan struct{}, 1),
		closeCh:       make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

// Connect binds addr as the peer and repeats a HANDSHAKE until the peer
// acknowledges it.
func (c *Channel) Connect(addr net.Addr) error {
	finished := c.bind(addr)
	drain(c.handshakeAcks)

	logger := c.log.WithField("peer", addr.String())
	logger.Info("Connecting")

	if err := c.sendUntil(common.NewHandshake(), c.handshakeAcks, finished); err != nil {
		failure := c.failure(err, "connect", common.ErrHandshakeTimeout)
		logger.WithError(failure).Warn("Handshake failed")
		return failure
	}

	logger.Info("Handshake complete")
	return nil
}

// Accept waits for a HANDSHAKE from any source, binds it as the peer and
// acknowledges it once.
func (c *Channel) Accept() (net.Addr, error) {
	c.unbind()
	c.log.Info("Waiting for handshake")

	var addr net.Addr
	select {
	case addr = <-c.handshakes:
	case <-c.closeCh:
		return nil, common.NewError(common.ErrClosed, "accept")
	}

	c.bind(addr)
	c.sendPacket(common.NewAck(common.NewHandshake()))

	c.log.WithField("peer", addr.String()).Info("Accepted peer")
	return addr, nil
}

// SetOutgoingMessage fragments data and replaces the previous outgoing message.
func (c *Channel) SetOutgoingMessage(data []byte) error {
	msg, err := NewOutgoingMessage(data, c.options.PacketSize)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.outgoing = msg
	c.mu.Unlock()
	return nil
}

// SendMessage delivers the outgoing message. It returns once every fragment
// is acknowledged, or with the first failure once all fragments settled.
func (c *Channel) SendMessage() error {
	c.mu.Lock()
	msg, peer, finished := c.outgoing, c.peer, c.finished
	c.mu.Unlock()

	if peer == nil {
		return common.NewError(common.ErrPeerUnreachable, "send message").WithDetail("not connected")
	}
	if msg == nil {
		return common.NewError(common.ErrFramingError, "send message").WithDetail("no outgoing message")
	}

	logger := c.log.WithFields(log.Fields{
		"peer":      peer.String(),
		"length":    msg.Length(),
		"fragments": msg.FragmentCount(),
	})

	c.setAwaitingLength(true)
	drain(c.lengthAcks)
	err := c.sendUntil(common.NewLength(msg.Length()), c.lengthAcks, finished)
	c.setAwaitingLength(false)
	if err != nil {
		failure := c.failure(err, "length exchange", common.ErrPeerUnreachable)
		logger.WithError(failure).Warn("Length not acknowledged")
		return failure
	}

	c.setSending(msg)
	var g errgroup.Group
	for seq := 0; seq < msg.FragmentCount(); seq++ {
		g.Go(func() error {
			return c.sendFragment(msg, uint16(seq), finished)
		})
	}
	err = g.Wait()
	c.setSending(nil)
	if err != nil {
		logger.WithError(err).Warn("Message not delivered")
		return err
	}

	logger.Debug("Message delivered")
	return nil
}

func (c *Channel) sendFragment(msg *Message, seq uint16, finished <-chan struct{}) error {
	pck := common.NewMessage(seq, msg.Fragment(seq))
	if err := c.sendUntil(pck, msg.Acked(seq), finished); err != nil {
		return c.failure(err, "send fragment", common.ErrPeerUnreachable).WithSequence(seq)
	}
	return nil
}

// ReceiveMessage waits for the peer to announce a message and returns it once
// every fragment arrived.
func (c *Channel) ReceiveMessage() ([]byte, error) {
	c.mu.Lock()
	peer, finished := c.peer, c.finished
	c.mu.Unlock()

	if peer == nil {
		return nil, common.NewError(common.ErrPeerUnreachable, "receive message").WithDetail("not connected")
	}

	var length uint32
	select {
	case length = <-c.lengths:
	case <-finished:
		return nil, c.failure(errPeerFinished, "receive message", common.ErrPeerUnreachable)
	case <-c.closeCh:
		return nil, common.NewError(common.ErrClosed, "receive message")
	}

	msg, err := NewIncomingMessage(length, c.options.PacketSize)
	if err != nil {
		return nil, err
	}

	logger := c.log.WithFields(log.Fields{
		"peer":      peer.String(),
		"length":    length,
		"fragments": msg.FragmentCount(),
	})
	logger.Debug("Receiving message")

	c.mu.Lock()
	c.incoming = msg
	c.mu.Unlock()
	c.sendPacket(common.NewAck(common.NewLength(length)))

	// a sender gives up after RetryCount+1 intervals without an ack
	idle := c.options.RetryInterval * time.Duration(c.options.RetryCount+2)
	ticker := time.NewTicker(c.options.RetryInterval)
	defer ticker.Stop()

	for !msg.Complete() {
		select {
		case <-msg.Done():
		case <-ticker.C:
			if msg.Idle() > idle {
				c.finishIncoming(msg, false)
				failure := common.NewError(common.ErrPeerUnreachable, "receive message").
					WithMismatch(msg.FragmentCount(), msg.ConfirmedCount()).
					WithDetail("no fragment for %v", idle)
				logger.WithError(failure).Warn("Message incomplete")
				return nil, failure
			}
		case <-finished:
			c.finishIncoming(msg, false)
			return nil, c.failure(errPeerFinished, "receive message", common.ErrPeerUnreachable)
		case <-c.closeCh:
			return nil, common.NewError(common.ErrClosed, "receive message")
		}
	}

	c.finishIncoming(msg, true)
	logger.Debug("Message received")
	return msg.Bytes(), nil
}

// Send sets data as the outgoing message and sends it.
func (c *Channel) Send(data []byte) error {
	if err := c.SetOutgoingMessage(data); err != nil {
		return err
	}
	return c.SendMessage()
}

func (c *Channel) Receive() ([]byte, error) {
	return c.ReceiveMessage()
}

func (c *Channel) Peer() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *Channel) PeerAddress() string {
	host, _ := transport.SplitAddr(c.Peer())
	return host
}

func (c *Channel) PeerPort() int {
	_, port := transport.SplitAddr(c.Peer())
	return port
}

func (c *Channel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close tells a bound peer the session is over, stops the read loop and
// closes the transport.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.Peer() != nil {
			c.sendPacket(common.NewFinish())
		}
		c.stop()
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Channel) stop() {
	c.stopOnce.Do(func() {
		close(c.closeCh)
	})
}

func (c *Channel) bind(addr net.Addr) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peer = addr
	c.finished = make(chan struct{})
	c.outgoing, c.incoming, c.received, c.sending = nil, nil, nil, nil
	c.conn.ConnectDefault(addr)
	drain(c.lengths)
	drain(c.handshakes)
	return c.finished
}

func (c *Channel) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peer = nil
	c.finished = nil
	c.outgoing, c.incoming, c.received, c.sending = nil, nil, nil, nil
	// handshakes queued before this point belong to an earlier session
	drain(c.handshakes)
}

func (c *Channel) setAwaitingLength(awaiting bool) {
	c.mu.Lock()
	c.awaitingLength = awaiting
	c.mu.Unlock()
}

func (c *Channel) setSending(msg *Message) {
	c.mu.Lock()
	c.sending = msg
	c.mu.Unlock()
}

func (c *Channel) finishIncoming(msg *Message, complete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.incoming == msg {
		c.incoming = nil
	}
	if complete {
		c.received = msg
	}
}

// sendUntil sends pck, then retransmits it every RetryInterval until acked
// fires. The packet is retransmitted at most RetryCount times.
func (c *Channel) sendUntil(pck *common.Packet, acked <-chan struct{}, finished <-chan struct{}) error {
	data := pck.ToBytes()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.log.WithFields(log.Fields{
				"flag":     pck.Flag,
				"sequence": pck.Sync,
				"attempt":  attempt,
			}).Debug("Retransmitting")
		}

		if err := c.conn.Send(data); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return common.ErrClosed
			}
			c.log.WithError(err).Warn("Could not send packet")
		}

		timer := time.NewTimer(c.options.RetryInterval)
		select {
		case <-acked:
			timer.Stop()
			return nil
		case <-finished:
			timer.Stop()
			return errPeerFinished
		case <-c.closeCh:
			timer.Stop()
			return common.ErrClosed
		case <-timer.C:
		}

		if attempt == c.options.RetryCount {
			return errExhausted
		}
	}
}

func (c *Channel) failure(err error, op string, exhausted error) *common.Error {
	switch {
	case errors.Is(err, common.ErrClosed):
		return common.NewError(common.ErrClosed, op)
	case errors.Is(err, errPeerFinished):
		return common.NewError(common.ErrPeerUnreachable, op).WithDetail("peer finished session")
	default:
		return common.NewError(exhausted, op).
			WithDetail("no acknowledgement after %d retries", c.options.RetryCount)
	}
}

// sendPacket sends pck once to the peer.
func (c *Channel) sendPacket(pck *common.Packet) {
	if err := c.conn.Send(pck.ToBytes()); err != nil && !errors.Is(err, transport.ErrClosed) {
		c.log.WithError(err).WithField("flag", pck.Flag).Warn("Could not send packet")
	}
}

func (c *Channel) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, c.options.BufferSize)
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		n, addr, err := c.conn.Receive(buf, c.options.RetryInterval)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			if errors.Is(err, transport.ErrClosed) {
				c.stop()
				return
			}
			c.log.WithError(err).Warn("Could not receive datagram")
			continue
		}

		pck, err := common.PacketFromBytes(buf[:n])
		if err != nil {
			c.log.WithError(err).WithField("from", addr.String()).Debug("Dropped malformed datagram")
			continue
		}

		c.handlePacket(addr, &pck)
	}
}

func (c *Channel) handlePacket(addr net.Addr, pck *common.Packet) {
	if pck.Flag == common.Handshake {
		c.handleHandshake(addr, pck)
		return
	}

	if peer := c.Peer(); !transport.SameAddr(peer, addr) {
		c.log.WithFields(log.Fields{
			"from": addr.String(),
			"flag": pck.Flag,
		}).Debug("Dropped datagram from foreign source")
		return
	}

	switch pck.Flag {
	case common.Handshake | common.Ack:
		signal(c.handshakeAcks)
	case common.Length:
		c.handleLength(pck)
	case common.Length | common.Ack:
		c.mu.Lock()
		awaiting := c.awaitingLength
		c.mu.Unlock()
		if awaiting {
			signal(c.lengthAcks)
		}
	case common.Message:
		c.handleFragment(pck)
	case common.Message | common.Ack:
		c.handleFragmentAck(pck)
	case common.Finish:
		c.handleFinish(addr)
	default:
		c.log.WithField("flag", pck.Flag).Debug("Dropped unexpected packet")
	}
}

func (c *Channel) handleHandshake(addr net.Addr, pck *common.Packet) {
	peer := c.Peer()
	if peer == nil {
		select {
		case c.handshakes <- addr:
		default:
		}
		return
	}

	if transport.SameAddr(peer, addr) {
		// our acknowledgement was lost
		c.sendPacket(common.NewAck(pck))
		return
	}
	c.log.WithField("from", addr.String()).Debug("Dropped handshake, already bound")
}

func (c *Channel) handleLength(pck *common.Packet) {
	length, err := pck.GetLengthPayload()
	if err != nil {
		c.log.WithError(err).Debug("Dropped length packet")
		return
	}

	c.mu.Lock()
	incoming, received := c.incoming, c.received
	c.mu.Unlock()
	if incoming != nil && incoming.Complete() {
		received, incoming = incoming, nil
	}

	// a repeated announcement of the message in progress means our
	// acknowledgement was lost
	if incoming != nil && incoming.Length() == length {
		c.sendPacket(common.NewAck(pck))
		return
	}
	// an empty message completes on announcement, so its lost acknowledgement
	// shows up as a repeat within the sender's retry window
	if incoming == nil && c.repeatsEmpty(received, length) {
		c.log.Debug("Acknowledged repeated empty message")
		c.sendPacket(common.NewAck(pck))
		return
	}

	select {
	case c.lengths <- length:
	default:
		c.log.WithField("length", length).Debug("Dropped length packet, one already pending")
	}
}

func (c *Channel) repeatsEmpty(received *Message, length uint32) bool {
	if received == nil || received.FragmentCount() != 0 || received.Length() != length {
		return false
	}
	return received.Idle() <= c.options.RetryInterval*time.Duration(c.options.RetryCount+1)
}

func (c *Channel) handleFragment(pck *common.Packet) {
	c.mu.Lock()
	incoming, received := c.incoming, c.received
	c.mu.Unlock()

	switch {
	case incoming != nil:
		if !incoming.Store(pck.Sync, pck.Data) {
			c.log.WithFields(log.Fields{
				"sequence": pck.Sync,
				"size":     pck.DataLength,
			}).Debug("Dropped fragment out of range")
			return
		}
		c.sendPacket(common.NewAck(pck))
	case received != nil && int(pck.Sync) < received.FragmentCount():
		// the sender missed our acknowledgement of the last message
		c.sendPacket(common.NewAck(pck))
	default:
		c.log.WithField("sequence", pck.Sync).Debug("Dropped fragment, no message in progress")
	}
}

func (c *Channel) handleFragmentAck(pck *common.Packet) {
	c.mu.Lock()
	sending := c.sending
	c.mu.Unlock()

	if sending == nil || int(pck.Sync) >= sending.FragmentCount() {
		c.log.WithField("sequence", pck.Sync).Debug("Dropped stale fragment ack")
		return
	}
	if sending.Confirm(pck.Sync) {
		c.log.WithField("sequence", pck.Sync).Debug("Fragment acknowledged")
	}
}

func (c *Channel) handleFinish(addr net.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !transport.SameAddr(c.peer, addr) {
		return
	}
	close(c.finished)
	c.peer = nil
	c.log.WithField("peer", addr.String()).Info("Peer finished session")
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

var _ common.MessageChannel = (*Channel)(nil)
