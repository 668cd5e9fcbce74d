package secure

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pablu23/Sudp/internal/common"
)

const testBits = 256

func TestIntegerEncodingIsLittleEndian(t *testing.T) {
	b := make([]byte, 4)
	putInt(b, big.NewInt(0x010203))
	assert.Equal(t, []byte{0x03, 0x02, 0x01, 0x00}, b)
	assert.Equal(t, int64(0x010203), getInt(b).Int64())
}

func TestPublicPacket(t *testing.T) {
	p, err := generatePrime(testBits)
	require.NoError(t, err)
	g := big.NewInt(DefaultGenerator)

	b := encodePublic(g, p, testBits)
	assert.Len(t, b, dhHeaderSize+2*testBits/8)
	assert.Equal(t, []byte{64, 0, 0x80, 0}, b[:dhHeaderSize])

	gotG, gotP, err := decodePublic(b, testBits)
	require.NoError(t, err)
	assert.Zero(t, g.Cmp(gotG))
	assert.Zero(t, p.Cmp(gotP))
}

func TestPublicPacketBitMismatch(t *testing.T) {
	p, err := generatePrime(2 * testBits)
	require.NoError(t, err)

	_, _, err = decodePublic(encodePublic(big.NewInt(DefaultGenerator), p, 2*testBits), testBits)
	assert.ErrorIs(t, err, common.ErrProtocolMismatch)
}

func TestDecodeWrongKind(t *testing.T) {
	b := encodePrivate(big.NewInt(5), testBits)
	_, _, err := decodePublic(b, testBits)
	assert.ErrorIs(t, err, common.ErrFramingError)

	_, err = decodePrivate([]byte{1, 0}, testBits)
	assert.ErrorIs(t, err, common.ErrFramingError)
}

func TestAgreement(t *testing.T) {
	p, err := generatePrime(testBits)
	require.NoError(t, err)
	g := big.NewInt(DefaultGenerator)

	x, err := privateExponent(p)
	require.NoError(t, err)
	y, err := privateExponent(p)
	require.NoError(t, err)

	// values travel through their packet encoding like on the wire
	gx, err := decodePrivate(encodePrivate(new(big.Int).Exp(g, x, p), testBits), testBits)
	require.NoError(t, err)
	gy, err := decodePrivate(encodePrivate(new(big.Int).Exp(g, y, p), testBits), testBits)
	require.NoError(t, err)

	listener := new(big.Int).Exp(gx, y, p)
	connector := new(big.Int).Exp(gy, x, p)
	require.Zero(t, listener.Cmp(connector))

	key1, iv1 := deriveKeys(listener, testBits, 128)
	key2, iv2 := deriveKeys(connector, testBits, 128)
	assert.Equal(t, key1, key2)
	assert.Equal(t, iv1, iv2)
	assert.Len(t, key1, 16)
	assert.Len(t, iv1, 16)
}

func TestDeriveKeysPadsSecret(t *testing.T) {
	key, iv := deriveKeys(big.NewInt(0xff), testBits, 128)
	assert.Equal(t, make([]byte, 16), key)
	assert.Equal(t, append(make([]byte, 15), 0xff), iv)
}

func TestPrivateExponentRange(t *testing.T) {
	p := big.NewInt(23)
	for range 200 {
		x, err := privateExponent(p)
		require.NoError(t, err)
		assert.True(t, x.Cmp(big.NewInt(2)) >= 0 && x.Cmp(big.NewInt(21)) <= 0, "x=%v", x)
	}
}

func TestCheckParameters(t *testing.T) {
	assert.NoError(t, checkGenerator(big.NewInt(65537), testBits))
	assert.ErrorIs(t, checkGenerator(big.NewInt(65536), testBits), common.ErrInvalidParameters)
	assert.ErrorIs(t, checkGenerator(big.NewInt(1), testBits), common.ErrInvalidParameters)
	assert.ErrorIs(t, checkGenerator(big.NewInt(65537), 16), common.ErrInvalidParameters)

	p, err := generatePrime(testBits)
	require.NoError(t, err)
	assert.NoError(t, checkPrime(p, testBits))
	assert.ErrorIs(t, checkPrime(p, 2*testBits), common.ErrInvalidParameters)

	composite := new(big.Int).Mul(p, big.NewInt(2))
	assert.ErrorIs(t, checkPrime(composite, testBits+1), common.ErrInvalidParameters)

	assert.ErrorIs(t, checkPeerValue(big.NewInt(1), p), common.ErrInvalidParameters)
	assert.ErrorIs(t, checkPeerValue(new(big.Int).Sub(p, big.NewInt(1)), p), common.ErrInvalidParameters)
	assert.NoError(t, checkPeerValue(big.NewInt(2), p))
}
