package secure

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pablu23/Sudp/internal/common"
)

func testSession(t *testing.T, keySize int) *session {
	t.Helper()
	secret := make([]byte, keySize+16)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	s, err := newSession(secret[:keySize], secret[keySize:])
	require.NoError(t, err)
	return s
}

func TestEncryptDecrypt(t *testing.T) {
	for _, keySize := range []int{16, 24, 32} {
		s := testSession(t, keySize)
		for _, n := range []int{0, 1, 15, 16, 17, 31, 32, 1000} {
			data := bytes.Repeat([]byte{byte(n)}, n)

			ciphertext := s.encrypt(data)
			assert.Len(t, ciphertext, paddedSize(n))

			plain, err := s.decrypt(ciphertext, uint32(n))
			require.NoError(t, err)
			assert.Equal(t, data, plain, "key %d, length %d", keySize, n)
		}
	}
}

func TestLengthBlock(t *testing.T) {
	s := testSession(t, 32)

	ciphertext := s.encryptLength(123456)
	assert.Len(t, ciphertext, 32)

	length, err := s.decryptLength(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), length)
}

func TestLengthBlockFraming(t *testing.T) {
	s := testSession(t, 16)

	for _, n := range []int{0, 16, 48} {
		_, err := s.decryptLength(make([]byte, n))
		assert.ErrorIs(t, err, common.ErrFramingError, "length %d", n)
	}
}

func TestPayloadFraming(t *testing.T) {
	s := testSession(t, 16)

	_, err := s.decrypt(s.encrypt([]byte("hello")), 40)
	assert.ErrorIs(t, err, common.ErrFramingError)
}

func TestSameKeySameCiphertext(t *testing.T) {
	s := testSession(t, 16)
	assert.Equal(t, s.encrypt([]byte("repeat")), s.encrypt([]byte("repeat")))
}

func TestPaddedSize(t *testing.T) {
	assert.Equal(t, 16, paddedSize(0))
	assert.Equal(t, 16, paddedSize(15))
	assert.Equal(t, 32, paddedSize(16))
	assert.Equal(t, 48, paddedSize(33))
}
