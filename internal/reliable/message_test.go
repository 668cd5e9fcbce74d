package reliable

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pablu23/Sudp/internal/common"
)

func TestFragmentCount(t *testing.T) {
	tests := []struct {
		length     uint32
		packetSize int
		want       int
	}{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{9, 4, 3},
		{1024, 1024, 1},
		{1025, 1024, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FragmentCount(tt.length, tt.packetSize), "length %d packet %d", tt.length, tt.packetSize)
	}
}

func TestOutgoingFragments(t *testing.T) {
	msg, err := NewOutgoingMessage([]byte("ABCDEFGHI"), 4)
	require.NoError(t, err)

	got := [][]byte{msg.Fragment(0), msg.Fragment(1), msg.Fragment(2)}
	want := [][]byte{[]byte("ABCD"), []byte("EFGH"), []byte("I")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragments mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint32(9), msg.Length())
	assert.Equal(t, "ABCDEFGHI", string(msg.Bytes()))
}

func TestEmptyMessageIsComplete(t *testing.T) {
	msg, err := NewIncomingMessage(0, 4)
	require.NoError(t, err)

	assert.Equal(t, 0, msg.FragmentCount())
	assert.True(t, msg.Complete())
	assert.Empty(t, msg.Bytes())
}

func TestStoreOutOfOrder(t *testing.T) {
	msg, err := NewIncomingMessage(9, 4)
	require.NoError(t, err)

	require.True(t, msg.Store(2, []byte("I")))
	require.True(t, msg.Store(0, []byte("ABCD")))
	assert.False(t, msg.Complete())
	require.True(t, msg.Store(1, []byte("EFGH")))

	assert.True(t, msg.Complete())
	assert.Equal(t, "ABCDEFGHI", string(msg.Bytes()))
}

func TestStoreRejectsWrongSize(t *testing.T) {
	msg, err := NewIncomingMessage(9, 4)
	require.NoError(t, err)

	assert.False(t, msg.Store(0, []byte("ABC")))
	assert.False(t, msg.Store(2, []byte("IJ")))
	assert.False(t, msg.Store(3, []byte("X")))
	assert.Equal(t, 0, msg.ConfirmedCount())
}

func TestStoreKeepsFirstCopy(t *testing.T) {
	msg, err := NewIncomingMessage(4, 4)
	require.NoError(t, err)

	require.True(t, msg.Store(0, []byte("ABCD")))
	require.True(t, msg.Store(0, []byte("WXYZ")))
	assert.Equal(t, "ABCD", string(msg.Bytes()))
}

func TestConfirmIsMonotonic(t *testing.T) {
	msg, err := NewOutgoingMessage([]byte("ABCDEFGHI"), 4)
	require.NoError(t, err)

	assert.True(t, msg.Confirm(1))
	assert.False(t, msg.Confirm(1))
	assert.False(t, msg.Confirm(7))
	assert.True(t, msg.IsConfirmed(1))
	assert.Equal(t, 1, msg.ConfirmedCount())

	select {
	case <-msg.Acked(1):
	default:
		t.Fatal("acked channel of confirmed fragment is open")
	}
	select {
	case <-msg.Acked(0):
		t.Fatal("acked channel of unconfirmed fragment is closed")
	default:
	}

	msg.Confirm(0)
	msg.Confirm(2)
	assert.True(t, msg.Complete())
	assert.Equal(t, 3, msg.ConfirmedCount())
}

func TestTooManyFragments(t *testing.T) {
	_, err := NewIncomingMessage(maxFragments+1, 1)

	var sudpErr *common.Error
	require.True(t, errors.As(err, &sudpErr))
	assert.ErrorIs(t, err, common.ErrFramingError)
	assert.Equal(t, maxFragments+1, sudpErr.Actual)
}

func TestOptionsValidate(t *testing.T) {
	opts := &Options{}
	require.NoError(t, opts.Validate())
	assert.Equal(t, common.DefaultPacketSize, opts.PacketSize)
	assert.Equal(t, common.DefaultBufferSize, opts.BufferSize)
	assert.Equal(t, common.DefaultRetryInterval, opts.RetryInterval)

	opts = &Options{PacketSize: 4000}
	require.NoError(t, opts.Validate())
	assert.Equal(t, 4000+common.HeaderSize, opts.BufferSize)

	tests := []Options{
		{PacketSize: -1},
		{RetryCount: -2},
		{RetryInterval: -1},
		{PacketSize: common.MaxDatagramSize},
		{PacketSize: 1024, BufferSize: 1024},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.Validate(), common.ErrInvalidConfig, "%+v", tt)
	}
}
