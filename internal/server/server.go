// Package server accepts one peer at a time, logs every message it receives
// and optionally echoes it back.
package server

import (
	"errors"
	"net"
	"os"
	"os/signal"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Sudp/internal/common"
	"github.com/Pablu23/Sudp/internal/transport"
)

type Server struct {
	channel common.MessageChannel
	options *Options
	log     log.FieldLogger

	mu       sync.Mutex
	sessions int
	received int

	stopOnce sync.Once
}

// New binds Address:Port and creates the server on it.
func New(opts ...func(*Options)) (*Server, error) {
	options := NewDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	conn, err := transport.Bind(options.Address, options.Port)
	if err != nil {
		return nil, err
	}

	server, err := newServer(conn, options)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return server, nil
}

// NewOnConn creates the server on an existing datagram endpoint.
func NewOnConn(conn transport.Datagram, opts ...func(*Options)) (*Server, error) {
	options := NewDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return newServer(conn, options)
}

func newServer(conn transport.Datagram, options *Options) (*Server, error) {
	channel, err := options.Config.Open(conn, options.Insecure, options.Logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		channel: channel,
		options: options,
		log:     options.Logger,
	}, nil
}

func (server *Server) Addr() net.Addr {
	return server.channel.LocalAddr()
}

// Serve accepts peers until Shutdown is called. Sessions are served one after
// another.
func (server *Server) Serve() error {
	if server.options.HandleInterrupt {
		server.handleShutdown()
	}

	addr := server.Addr()
	server.log.WithFields(log.Fields{
		"address":  addr.String(),
		"insecure": server.options.Insecure,
	}).Info("Started listening")

	for {
		peer, err := server.channel.Accept()
		if err != nil {
			if errors.Is(err, common.ErrClosed) {
				server.log.Info("Server stopped")
				return nil
			}
			server.log.WithError(err).Warn("Could not accept peer")
			continue
		}

		server.mu.Lock()
		server.sessions++
		server.mu.Unlock()

		if err := server.serveSession(); err != nil {
			if errors.Is(err, common.ErrClosed) {
				server.log.Info("Server stopped")
				return nil
			}
			server.log.WithError(err).WithField("peer", peer.String()).Info("Session ended")
		}
	}
}

func (server *Server) serveSession() error {
	for {
		message, err := server.channel.Receive()
		if err != nil {
			return err
		}

		server.mu.Lock()
		server.received++
		server.mu.Unlock()

		server.log.WithFields(log.Fields{
			"peer":    server.channel.PeerAddress(),
			"port":    server.channel.PeerPort(),
			"length":  len(message),
			"message": string(message),
		}).Info("Received message")

		if !server.options.Echo {
			continue
		}
		if err := server.channel.Send(message); err != nil {
			return err
		}
	}
}

// Stats returns the number of accepted sessions and received messages.
func (server *Server) Stats() (sessions, received int) {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.sessions, server.received
}

func (server *Server) Shutdown() error {
	var err error
	server.stopOnce.Do(func() {
		server.log.Info("Server is shutting down")
		err = server.channel.Close()
	})
	return err
}

func (server *Server) handleShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		signal.Stop(c)
		if err := server.Shutdown(); err != nil {
			server.log.WithError(err).Error("Could not close channel")
		}
	}()
}
