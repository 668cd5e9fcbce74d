package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pablu23/Sudp/internal/common"
	"github.com/Pablu23/Sudp/internal/reliable"
	"github.com/Pablu23/Sudp/internal/secure"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.TimeoutInterval)
	assert.Equal(t, 1024, cfg.PacketSize)
	assert.Equal(t, 2048, cfg.BufferSize)
	assert.Equal(t, 3, cfg.RetryTimes)
	assert.Equal(t, 1024, cfg.PrimeBits)
	assert.Equal(t, 256, cfg.KeyBits)
	assert.Equal(t, "65537", cfg.Generator.String())
	assert.Zero(t, cfg.Prime.Sign())

	assert.Equal(t, cfg, Default())
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.NotNil(t, Must(FromViper(New())))
	})

	v := New()
	v.Set(KeyPublicPrimeG, "0x10001")
	assert.Panics(t, func() {
		Must(FromViper(v))
	})
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"timeout_interval_ms": 250,
		"packet_size": 512,
		"retry_times": 5,
		"prime_bits_length": 512,
		"public_prime_g": "3",
		"aes_key_bits_length": 128
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.TimeoutInterval)
	assert.Equal(t, 512, cfg.PacketSize)
	assert.Equal(t, 2048, cfg.BufferSize)
	assert.Equal(t, 5, cfg.RetryTimes)
	assert.Equal(t, 512, cfg.PrimeBits)
	assert.Equal(t, 128, cfg.KeyBits)
	assert.Equal(t, "3", cfg.Generator.String())
}

func TestLoadYAMLPinnedPrime(t *testing.T) {
	// 2^127 - 1
	path := writeFile(t, "config.yaml", `
prime_bits_length: 256
aes_key_bits_length: 128
public_prime_p: "170141183460469231731687303715884105727"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "170141183460469231731687303715884105727", cfg.Prime.String())

	// the pinned prime has 127 bits, not the configured 256
	opts := secure.NewDefaultOptions()
	cfg.ApplySecure(opts)
	assert.ErrorIs(t, opts.Validate(), common.ErrInvalidConfig)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = Load(writeFile(t, "broken.json", `{"packet_size": `))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = Load(writeFile(t, "prime.json", `{"public_prime_g": "sixty"}`))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = Load(writeFile(t, "negative.json", `{"public_prime_p": "-7"}`))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestApplyReliable(t *testing.T) {
	path := writeFile(t, "config.json", `{"packet_size": 4000, "buffer_size": 100}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	opts := reliable.NewDefaultOptions()
	cfg.ApplyReliable(opts)
	assert.Equal(t, 4000, opts.PacketSize)
	assert.ErrorIs(t, opts.Validate(), common.ErrInvalidConfig)
}

func TestApplySecure(t *testing.T) {
	cfg := Default()
	cfg.PrimeBits = 256
	cfg.KeyBits = 128

	opts := secure.NewDefaultOptions()
	cfg.ApplySecure(opts)
	require.NoError(t, opts.Validate())
	assert.Equal(t, 256, opts.PrimeBits)
	assert.Equal(t, 128, opts.KeyBits)
	assert.Equal(t, time.Second, opts.RetryInterval)
	assert.Equal(t, 3, opts.RetryCount)
}
