package secure

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"github.com/samber/oops"

	"github.com/Pablu23/Sudp/internal/common"
)

// Key exchange packets start with body_size and kind, followed by fixed-width
// little-endian integers of PrimeBits/8 bytes each.
const (
	dhHeaderSize = 2 + 2

	publicKind  uint16 = 0x80
	privateKind uint16 = 0x40
)

// primeRounds is the number of Miller-Rabin rounds used to check received primes.
const primeRounds = 20

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

func checkGenerator(g *big.Int, bits int) error {
	if g.Cmp(two) < 0 || g.BitLen() > bits || !g.ProbablyPrime(primeRounds) {
		return common.NewError(common.ErrInvalidParameters, "check generator").
			WithDetail("g=%v is not a prime of at most %d bits", g, bits)
	}
	return nil
}

func checkPrime(p *big.Int, bits int) error {
	if p.BitLen() != bits || !p.ProbablyPrime(primeRounds) {
		return common.NewError(common.ErrInvalidParameters, "check prime").
			WithMismatch(bits, p.BitLen()).
			WithDetail("p is not a prime of %d bits", bits)
	}
	return nil
}

func generatePrime(bits int) (*big.Int, error) {
	p, err := rand.Prime(rand.Reader, bits)
	if err != nil {
		return nil, oops.Wrapf(err, "generate %d bit prime", bits)
	}
	return p, nil
}

// privateExponent picks x uniformly from [2, p-2].
func privateExponent(p *big.Int) (*big.Int, error) {
	limit := new(big.Int).Sub(p, big.NewInt(3))
	x, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, oops.Wrapf(err, "generate private exponent")
	}
	return x.Add(x, two), nil
}

// checkPeerValue rejects values outside [2, p-2], which would force the
// shared secret into a trivial subgroup.
func checkPeerValue(v, p *big.Int) error {
	upper := new(big.Int).Sub(p, one)
	if v.Cmp(two) < 0 || v.Cmp(upper) >= 0 {
		return common.NewError(common.ErrInvalidParameters, "key exchange").
			WithDetail("peer value out of range")
	}
	return nil
}

func fieldSize(bits int) int {
	return bits / 8
}

func putInt(dst []byte, v *big.Int) {
	v.FillBytes(dst)
	for i, j := 0, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
}

func getInt(src []byte) *big.Int {
	be := make([]byte, len(src))
	for i := range src {
		be[len(src)-1-i] = src[i]
	}
	return new(big.Int).SetBytes(be)
}

func encodeDH(kind uint16, bits int, values ...*big.Int) []byte {
	size := fieldSize(bits)
	b := make([]byte, dhHeaderSize+len(values)*size)
	binary.LittleEndian.PutUint16(b[0:2], uint16(len(values)*size))
	binary.LittleEndian.PutUint16(b[2:4], kind)
	for i, v := range values {
		start := dhHeaderSize + i*size
		putInt(b[start:start+size], v)
	}
	return b
}

// decodeDH reads count fixed-width integers of a packet of the given kind. A
// body of a different width means the peer uses another prime size.
func decodeDH(b []byte, kind uint16, bits, count int) ([]*big.Int, error) {
	if len(b) < dhHeaderSize {
		return nil, common.NewError(common.ErrFramingError, "key exchange").
			WithMismatch(dhHeaderSize, len(b)).
			WithDetail("key exchange packet too short")
	}
	bodySize := int(binary.LittleEndian.Uint16(b[0:2]))
	if got := binary.LittleEndian.Uint16(b[2:4]); got != kind {
		return nil, common.NewError(common.ErrFramingError, "key exchange").
			WithMismatch(int(kind), int(got)).
			WithDetail("unexpected key exchange packet")
	}
	if bodySize != len(b)-dhHeaderSize {
		return nil, common.NewError(common.ErrFramingError, "key exchange").
			WithMismatch(bodySize, len(b)-dhHeaderSize).
			WithDetail("body size does not match packet")
	}

	size := fieldSize(bits)
	if bodySize != count*size {
		return nil, common.NewError(common.ErrProtocolMismatch, "key exchange").
			WithMismatch(bits, bodySize*8/count).
			WithDetail("prime bit length differs from peer")
	}

	values := make([]*big.Int, count)
	for i := range values {
		start := dhHeaderSize + i*size
		values[i] = getInt(b[start : start+size])
	}
	return values, nil
}

func encodePublic(g, p *big.Int, bits int) []byte {
	return encodeDH(publicKind, bits, g, p)
}

func decodePublic(b []byte, bits int) (g, p *big.Int, err error) {
	values, err := decodeDH(b, publicKind, bits, 2)
	if err != nil {
		return nil, nil, err
	}
	return values[0], values[1], nil
}

func encodePrivate(v *big.Int, bits int) []byte {
	return encodeDH(privateKind, bits, v)
}

func decodePrivate(b []byte, bits int) (*big.Int, error) {
	values, err := decodeDH(b, privateKind, bits, 1)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// deriveKeys exports shared big-endian, zero-padded to bits/8 bytes, and cuts
// the key followed by the iv from it.
func deriveKeys(shared *big.Int, bits, keyBits int) (key, iv []byte) {
	secret := shared.FillBytes(make([]byte, fieldSize(bits)))
	keySize := keyBits / 8
	return secret[:keySize], secret[keySize : keySize+aes.BlockSize]
}
