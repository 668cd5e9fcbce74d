package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/samber/oops"

	"github.com/Pablu23/Sudp/internal/common"
)

// lengthBlockSize is the size of the encrypted length message, two AES blocks.
const lengthBlockSize = 2 * aes.BlockSize

// session holds the key and iv agreed for one peer. Every message is
// encrypted with the same iv.
type session struct {
	block cipher.Block
	iv    []byte
}

func newSession(key, iv []byte) (*session, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oops.Wrapf(err, "create aes cipher")
	}
	return &session{block: block, iv: iv}, nil
}

// paddedSize rounds n up to the next block, adding a full block when n is
// already aligned.
func paddedSize(n int) int {
	return (n/aes.BlockSize + 1) * aes.BlockSize
}

func (s *session) encryptLength(length uint32) []byte {
	plain := make([]byte, lengthBlockSize)
	binary.LittleEndian.PutUint32(plain[0:4], length)
	return s.seal(plain)
}

func (s *session) decryptLength(ciphertext []byte) (uint32, error) {
	if len(ciphertext) != lengthBlockSize {
		return 0, common.NewError(common.ErrFramingError, "decrypt length").
			WithMismatch(lengthBlockSize, len(ciphertext)).
			WithDetail("length message must be two cipher blocks")
	}
	plain := s.open(ciphertext)
	return binary.LittleEndian.Uint32(plain[0:4]), nil
}

func (s *session) encrypt(data []byte) []byte {
	plain := make([]byte, paddedSize(len(data)))
	copy(plain, data)
	return s.seal(plain)
}

func (s *session) decrypt(ciphertext []byte, length uint32) ([]byte, error) {
	if want := paddedSize(int(length)); len(ciphertext) != want {
		return nil, common.NewError(common.ErrFramingError, "decrypt payload").
			WithMismatch(want, len(ciphertext)).
			WithDetail("payload does not match announced length %d", length)
	}
	return s.open(ciphertext)[:length], nil
}

func (s *session) seal(plain []byte) []byte {
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(s.block, s.iv).CryptBlocks(out, plain)
	return out
}

func (s *session) open(ciphertext []byte) []byte {
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(s.block, s.iv).CryptBlocks(out, ciphertext)
	return out
}
