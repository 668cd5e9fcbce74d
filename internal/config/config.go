// Package config loads channel settings from a JSON, YAML or TOML file.
package config

import (
	"errors"
	"math/big"
	"time"

	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Pablu23/Sudp/internal/common"
	"github.com/Pablu23/Sudp/internal/reliable"
	"github.com/Pablu23/Sudp/internal/secure"
)

const (
	KeyTimeoutInterval = "timeout_interval_ms"
	KeyPacketSize      = "packet_size"
	KeyBufferSize      = "buffer_size"
	KeyRetryTimes      = "retry_times"
	KeyPrimeBits       = "prime_bits_length"
	KeyPublicPrimeG    = "public_prime_g"
	KeyPublicPrimeP    = "public_prime_p"
	KeyAESKeyBits      = "aes_key_bits_length"
)

type Config struct {
	TimeoutInterval time.Duration
	PacketSize      int
	BufferSize      int
	RetryTimes      int

	PrimeBits int
	KeyBits   int
	Generator *big.Int
	// Prime is zero when a prime should be generated.
	Prime *big.Int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTimeoutInterval, common.DefaultRetryInterval.Milliseconds())
	v.SetDefault(KeyPacketSize, common.DefaultPacketSize)
	v.SetDefault(KeyBufferSize, common.DefaultBufferSize)
	v.SetDefault(KeyRetryTimes, common.DefaultRetryCount)
	v.SetDefault(KeyPrimeBits, secure.DefaultPrimeBits)
	v.SetDefault(KeyPublicPrimeG, "65537")
	v.SetDefault(KeyPublicPrimeP, "0")
	v.SetDefault(KeyAESKeyBits, secure.DefaultKeyBits)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return Must(FromViper(New()))
}

// Must panics if err is non-nil.
func Must(cfg *Config, err error) *Config {
	if err != nil {
		panic(err)
	}
	return cfg
}

// New returns a viper instance holding only the defaults.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// Load reads path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	v := New()
	if path == "" {
		return FromViper(v)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, common.NewError(common.ErrInvalidConfig, "load config").
			WithCause(oops.Wrapf(err, "read %s", path))
	}
	log.WithField("file", v.ConfigFileUsed()).Debug("Using config file")

	return FromViper(v)
}

// FromViper converts the values held by v. Numbers are checked by the channel
// options, primes are parsed here.
func FromViper(v *viper.Viper) (*Config, error) {
	g, err := parsePrime(v, KeyPublicPrimeG)
	if err != nil {
		return nil, err
	}
	p, err := parsePrime(v, KeyPublicPrimeP)
	if err != nil {
		return nil, err
	}

	return &Config{
		TimeoutInterval: time.Duration(v.GetInt64(KeyTimeoutInterval)) * time.Millisecond,
		PacketSize:      v.GetInt(KeyPacketSize),
		BufferSize:      v.GetInt(KeyBufferSize),
		RetryTimes:      v.GetInt(KeyRetryTimes),
		PrimeBits:       v.GetInt(KeyPrimeBits),
		KeyBits:         v.GetInt(KeyAESKeyBits),
		Generator:       g,
		Prime:           p,
	}, nil
}

var errNotDecimal = errors.New("not a decimal integer")

// parsePrime reads a decimal integer stored either as a string, which
// keeps large primes exact, or as a plain number.
func parsePrime(v *viper.Viper, key string) (*big.Int, error) {
	s := v.GetString(key)
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, common.NewError(common.ErrInvalidConfig, "load config").
			WithDetail("%s=%q", key, s).
			WithCause(errNotDecimal)
	}
	return n, nil
}

// ApplyReliable copies the channel settings into o.
func (c *Config) ApplyReliable(o *reliable.Options) {
	o.PacketSize = c.PacketSize
	o.BufferSize = c.BufferSize
	o.RetryCount = c.RetryTimes
	o.RetryInterval = c.TimeoutInterval
}

// ApplySecure copies all settings into o.
func (c *Config) ApplySecure(o *secure.Options) {
	c.ApplyReliable(&o.Options)
	o.PrimeBits = c.PrimeBits
	o.KeyBits = c.KeyBits
	o.Generator = c.Generator
	o.Prime = c.Prime
}
