package reliable

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Sudp/internal/common"
)

type Options struct {
	PacketSize    int
	RetryCount    int
	RetryInterval time.Duration
	BufferSize    int
	Logger        log.FieldLogger
}

func NewDefaultOptions() *Options {
	return &Options{
		PacketSize:    common.DefaultPacketSize,
		RetryCount:    common.DefaultRetryCount,
		RetryInterval: common.DefaultRetryInterval,
		BufferSize:    common.DefaultBufferSize,
		Logger:        log.StandardLogger(),
	}
}

// Validate fills zero values with defaults and checks the result.
func (o *Options) Validate() error {
	if o.PacketSize == 0 {
		o.PacketSize = common.DefaultPacketSize
	}
	if o.RetryCount == 0 {
		o.RetryCount = common.DefaultRetryCount
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = common.DefaultRetryInterval
	}
	if o.BufferSize == 0 {
		o.BufferSize = max(common.DefaultBufferSize, o.PacketSize+common.HeaderSize)
	}
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}

	switch {
	case o.PacketSize < 0:
		return invalidConfig("packet_size", o.PacketSize)
	case o.RetryCount < 0:
		return invalidConfig("retry_times", o.RetryCount)
	case o.RetryInterval < 0:
		return invalidConfig("timeout_interval", o.RetryInterval)
	case o.BufferSize < 0:
		return invalidConfig("buffer_size", o.BufferSize)
	case o.PacketSize+common.HeaderSize > common.MaxDatagramSize:
		return common.NewError(common.ErrInvalidConfig, "configure").
			WithMismatch(common.MaxDatagramSize-common.HeaderSize, o.PacketSize).
			WithDetail("packet_size exceeds datagram payload")
	case o.BufferSize < o.PacketSize+common.HeaderSize:
		return common.NewError(common.ErrInvalidConfig, "configure").
			WithMismatch(o.PacketSize+common.HeaderSize, o.BufferSize).
			WithDetail("buffer_size smaller than packet_size plus header")
	}
	return nil
}

func invalidConfig(key string, value any) error {
	return common.NewError(common.ErrInvalidConfig, "configure").
		WithDetail("%s must be positive, got %v", key, value)
}
