// Package secure layers a Diffie-Hellman key agreement and AES-CBC framing
// on top of a reliable channel. Every message is sent as two reliable
// messages: its encrypted length, then its encrypted payload.
package secure

import (
	"math"
	"math/big"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Sudp/internal/common"
	"github.com/Pablu23/Sudp/internal/reliable"
	"github.com/Pablu23/Sudp/internal/transport"
)

type Channel struct {
	channel *reliable.Channel
	options *Options
	log     log.FieldLogger

	mu      sync.Mutex
	prime   *big.Int
	session *session
}

func New(conn transport.Datagram, opts ...func(*Options)) (*Channel, error) {
	options := NewDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	channel, err := reliable.New(conn, func(o *reliable.Options) {
		*o = options.Options
	})
	if err != nil {
		return nil, err
	}

	c := &Channel{
		channel: channel,
		options: options,
		log:     options.Logger.WithField("local", conn.LocalAddr().String()),
	}
	if options.pinned() {
		c.prime = options.Prime
	}
	return c, nil
}

// Accept waits for a peer and runs the listener side of the key agreement:
// send g and p, receive g^x, reply g^y.
func (c *Channel) Accept() (net.Addr, error) {
	c.setSession(nil)

	addr, err := c.channel.Accept()
	if err != nil {
		return nil, err
	}

	p, err := c.groupPrime()
	if err != nil {
		return nil, err
	}
	g := c.options.Generator
	bits := c.options.PrimeBits

	if err := c.channel.Send(encodePublic(g, p, bits)); err != nil {
		return nil, err
	}

	y, err := privateExponent(p)
	if err != nil {
		return nil, err
	}

	b, err := c.channel.Receive()
	if err != nil {
		return nil, err
	}
	peerValue, err := decodePrivate(b, bits)
	if err != nil {
		return nil, err
	}
	if err := checkPeerValue(peerValue, p); err != nil {
		return nil, err
	}

	if err := c.channel.Send(encodePrivate(new(big.Int).Exp(g, y, p), bits)); err != nil {
		return nil, err
	}

	if err := c.establish(new(big.Int).Exp(peerValue, y, p)); err != nil {
		return nil, err
	}
	return addr, nil
}

// Connect handshakes with addr and runs the connector side of the key
// agreement: receive g and p, send g^x, receive g^y.
func (c *Channel) Connect(addr net.Addr) error {
	c.setSession(nil)

	if err := c.channel.Connect(addr); err != nil {
		return err
	}
	bits := c.options.PrimeBits

	b, err := c.channel.Receive()
	if err != nil {
		return err
	}
	g, p, err := decodePublic(b, bits)
	if err != nil {
		c.log.WithError(err).Warn("Rejected group parameters")
		return err
	}
	if err := checkGenerator(g, bits); err != nil {
		return err
	}
	if err := checkPrime(p, bits); err != nil {
		return err
	}

	x, err := privateExponent(p)
	if err != nil {
		return err
	}
	if err := c.channel.Send(encodePrivate(new(big.Int).Exp(g, x, p), bits)); err != nil {
		return err
	}

	b, err = c.channel.Receive()
	if err != nil {
		return err
	}
	peerValue, err := decodePrivate(b, bits)
	if err != nil {
		return err
	}
	if err := checkPeerValue(peerValue, p); err != nil {
		return err
	}

	return c.establish(new(big.Int).Exp(peerValue, x, p))
}

// SendMessage sends the encrypted length of data, then data itself.
func (c *Channel) SendMessage(data []byte) error {
	s, err := c.current("send message")
	if err != nil {
		return err
	}
	if uint64(len(data)) > math.MaxUint32 {
		return common.NewError(common.ErrFramingError, "send message").
			WithDetail("message of %d bytes exceeds 32-bit length", len(data))
	}

	if err := c.channel.Send(s.encryptLength(uint32(len(data)))); err != nil {
		return err
	}
	return c.channel.Send(s.encrypt(data))
}

func (c *Channel) ReceiveMessage() ([]byte, error) {
	s, err := c.current("receive message")
	if err != nil {
		return nil, err
	}

	header, err := c.channel.Receive()
	if err != nil {
		return nil, err
	}
	length, err := s.decryptLength(header)
	if err != nil {
		return nil, err
	}

	body, err := c.channel.Receive()
	if err != nil {
		return nil, err
	}
	return s.decrypt(body, length)
}

func (c *Channel) Send(data []byte) error {
	return c.SendMessage(data)
}

func (c *Channel) Receive() ([]byte, error) {
	return c.ReceiveMessage()
}

func (c *Channel) PeerAddress() string {
	return c.channel.PeerAddress()
}

func (c *Channel) PeerPort() int {
	return c.channel.PeerPort()
}

func (c *Channel) LocalAddr() net.Addr {
	return c.channel.LocalAddr()
}

func (c *Channel) Close() error {
	c.setSession(nil)
	return c.channel.Close()
}

// groupPrime returns the pinned prime, or generates one on first use and
// keeps it for later sessions.
func (c *Channel) groupPrime() (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prime != nil {
		return c.prime, nil
	}

	c.log.WithField("bits", c.options.PrimeBits).Info("Generating group prime")
	p, err := generatePrime(c.options.PrimeBits)
	if err != nil {
		return nil, err
	}
	c.prime = p
	return p, nil
}

func (c *Channel) establish(shared *big.Int) error {
	key, iv := deriveKeys(shared, c.options.PrimeBits, c.options.KeyBits)
	s, err := newSession(key, iv)
	if err != nil {
		return err
	}
	c.setSession(s)

	c.log.WithFields(log.Fields{
		"peer":       c.channel.PeerAddress(),
		"port":       c.channel.PeerPort(),
		"prime_bits": c.options.PrimeBits,
		"key_bits":   c.options.KeyBits,
	}).Info("Key agreement complete")
	return nil
}

func (c *Channel) setSession(s *session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Channel) current(op string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, common.NewError(common.ErrPeerUnreachable, op).WithDetail("no session established")
	}
	return c.session, nil
}

var _ common.MessageChannel = (*Channel)(nil)
