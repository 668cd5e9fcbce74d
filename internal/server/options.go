package server

import (
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Sudp/internal/config"
)

type Options struct {
	Address string
	Port    int
	// Insecure serves the reliable channel without key agreement.
	Insecure bool
	// Echo sends every received message back to its peer.
	Echo bool
	// HandleInterrupt shuts the server down on SIGINT.
	HandleInterrupt bool
	Config          *config.Config
	Logger          log.FieldLogger
}

func NewDefaultOptions() *Options {
	return &Options{
		Address:         "0.0.0.0",
		Port:            13374,
		Echo:            true,
		HandleInterrupt: true,
		Config:          config.Default(),
		Logger:          log.StandardLogger(),
	}
}
