package config

import (
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Sudp/internal/common"
	"github.com/Pablu23/Sudp/internal/reliable"
	"github.com/Pablu23/Sudp/internal/secure"
	"github.com/Pablu23/Sudp/internal/transport"
)

// Open creates a secure channel on conn, or a bare reliable channel when
// insecure is set.
func (c *Config) Open(conn transport.Datagram, insecure bool, logger log.FieldLogger) (common.MessageChannel, error) {
	if insecure {
		channel, err := reliable.New(conn, func(o *reliable.Options) {
			c.ApplyReliable(o)
			o.Logger = logger
		})
		if err != nil {
			return nil, err
		}
		return channel, nil
	}

	channel, err := secure.New(conn, func(o *secure.Options) {
		c.ApplySecure(o)
		o.Logger = logger
	})
	if err != nil {
		return nil, err
	}
	return channel, nil
}
