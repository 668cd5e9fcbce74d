package secure

import (
	"math/big"

	"github.com/Pablu23/Sudp/internal/common"
	"github.com/Pablu23/Sudp/internal/reliable"
)

const (
	DefaultPrimeBits = 1024
	DefaultKeyBits   = 256
	DefaultGenerator = 65537
)

// Options configures the reliable channel underneath together with the
// Diffie-Hellman group and the AES key size.
type Options struct {
	reliable.Options

	PrimeBits int
	KeyBits   int
	Generator *big.Int
	// Prime pins the group prime. Nil or zero generates one on first Accept.
	Prime *big.Int
}

func NewDefaultOptions() *Options {
	return &Options{
		Options:   *reliable.NewDefaultOptions(),
		PrimeBits: DefaultPrimeBits,
		KeyBits:   DefaultKeyBits,
		Generator: big.NewInt(DefaultGenerator),
	}
}

// Validate fills zero values with defaults and checks the group parameters.
func (o *Options) Validate() error {
	if err := o.Options.Validate(); err != nil {
		return err
	}
	if o.PrimeBits == 0 {
		o.PrimeBits = DefaultPrimeBits
	}
	if o.KeyBits == 0 {
		o.KeyBits = DefaultKeyBits
	}
	if o.Generator == nil {
		o.Generator = big.NewInt(DefaultGenerator)
	}

	switch o.KeyBits {
	case 128, 192, 256:
	default:
		return common.NewError(common.ErrInvalidConfig, "configure").
			WithDetail("aes_key_bits_length must be 128, 192 or 256, got %d", o.KeyBits)
	}
	if o.PrimeBits < 0 || o.PrimeBits%8 != 0 {
		return common.NewError(common.ErrInvalidConfig, "configure").
			WithDetail("prime_bits_length must be a positive multiple of 8, got %d", o.PrimeBits)
	}
	// key and iv are both cut from the shared secret
	if o.PrimeBits < 2*o.KeyBits {
		return common.NewError(common.ErrInvalidConfig, "configure").
			WithMismatch(2*o.KeyBits, o.PrimeBits).
			WithDetail("prime_bits_length too small for aes_key_bits_length")
	}

	if err := checkGenerator(o.Generator, o.PrimeBits); err != nil {
		return common.NewError(common.ErrInvalidConfig, "configure").WithCause(err)
	}
	if o.pinned() {
		if err := checkPrime(o.Prime, o.PrimeBits); err != nil {
			return common.NewError(common.ErrInvalidConfig, "configure").WithCause(err)
		}
	}
	return nil
}

func (o *Options) pinned() bool {
	return o.Prime != nil && o.Prime.Sign() != 0
}
