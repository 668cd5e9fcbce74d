package reliable

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kelindar/bitmap"

	"github.com/Pablu23/Sudp/internal/common"
)

// Message is a logical message split into fixed-size fragments, together with
// the set of fragments confirmed so far. The confirmed set only grows.
type Message struct {
	length     uint32
	packetSize int

	mu        sync.Mutex
	fragments [][]byte
	confirmed bitmap.Bitmap
	acked     []chan struct{}
	done      chan struct{}

	lastActivity atomic.Int64
}

// FragmentCount returns ceil(length / packetSize).
func FragmentCount(length uint32, packetSize int) int {
	return int((uint64(length) + uint64(packetSize) - 1) / uint64(packetSize))
}

func fragmentSize(length uint32, packetSize int, seq int) int {
	if rest := int(length) - seq*packetSize; rest < packetSize {
		return rest
	}
	return packetSize
}

func newMessage(length uint32, packetSize int) *Message {
	count := FragmentCount(length, packetSize)
	m := &Message{
		length:     length,
		packetSize: packetSize,
		fragments:  make([][]byte, count),
		acked:      make([]chan struct{}, count),
		done:       make(chan struct{}),
	}
	for i := range m.acked {
		m.acked[i] = make(chan struct{})
	}
	if count == 0 {
		close(m.done)
	}
	m.touch()
	return m
}

// NewOutgoingMessage fragments data into chunks of packetSize bytes.
func NewOutgoingMessage(data []byte, packetSize int) (*Message, error) {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return nil, common.NewError(common.ErrFramingError, "set outgoing message").
			WithDetail("message of %d bytes exceeds 32-bit length", len(data))
	}
	if count := FragmentCount(uint32(len(data)), packetSize); count > maxFragments {
		return nil, common.NewError(common.ErrFramingError, "set outgoing message").
			WithMismatch(maxFragments, count).
			WithDetail("too many fragments")
	}

	m := newMessage(uint32(len(data)), packetSize)
	for i := range m.fragments {
		start := i * packetSize
		chunk := make([]byte, fragmentSize(m.length, packetSize, i))
		copy(chunk, data[start:])
		m.fragments[i] = chunk
	}
	return m, nil
}

// NewIncomingMessage allocates an empty skeleton for a message of length bytes.
func NewIncomingMessage(length uint32, packetSize int) (*Message, error) {
	if count := FragmentCount(length, packetSize); count > maxFragments {
		return nil, common.NewError(common.ErrFramingError, "receive message").
			WithMismatch(maxFragments, count).
			WithDetail("too many fragments")
	}
	return newMessage(length, packetSize), nil
}

// maxFragments is bounded by the 16 bit sequence field.
const maxFragments = 1 << 16

func (m *Message) Length() uint32 {
	return m.length
}

func (m *Message) FragmentCount() int {
	return len(m.fragments)
}

func (m *Message) Fragment(seq uint16) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fragments[seq]
}

// Store saves data as fragment seq and confirms it. A fragment that is
// already confirmed is left untouched. It returns false if data does not
// have the size fragment seq must have.
func (m *Message) Store(seq uint16, data []byte) bool {
	if int(seq) >= len(m.fragments) || len(data) != fragmentSize(m.length, m.packetSize, int(seq)) {
		return false
	}
	m.touch()

	m.mu.Lock()
	if !m.confirmed.Contains(uint32(seq)) {
		chunk := make([]byte, len(data))
		copy(chunk, data)
		m.fragments[seq] = chunk
	}
	m.mu.Unlock()

	m.Confirm(seq)
	return true
}

// Confirm marks fragment seq as confirmed and reports whether it was new.
func (m *Message) Confirm(seq uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(seq) >= len(m.fragments) || m.confirmed.Contains(uint32(seq)) {
		return false
	}
	m.confirmed.Set(uint32(seq))
	close(m.acked[seq])
	if m.confirmed.Count() == len(m.fragments) {
		close(m.done)
	}
	return true
}

func (m *Message) IsConfirmed(seq uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed.Contains(uint32(seq))
}

func (m *Message) ConfirmedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed.Count()
}

func (m *Message) Complete() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Acked is closed once fragment seq is confirmed.
func (m *Message) Acked(seq uint16) <-chan struct{} {
	return m.acked[seq]
}

// Done is closed once every fragment is confirmed.
func (m *Message) Done() <-chan struct{} {
	return m.done
}

// Bytes reassembles the fragments in index order.
func (m *Message) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := make([]byte, 0, m.length)
	for _, fragment := range m.fragments {
		data = append(data, fragment...)
	}
	return data
}

func (m *Message) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// Idle returns how long ago a fragment was last stored.
func (m *Message) Idle() time.Duration {
	return time.Since(time.Unix(0, m.lastActivity.Load()))
}
