// Package client connects to a server and sends it one message per input line.
package client

import (
	"bufio"
	"fmt"
	"io"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Sudp/internal/common"
	"github.com/Pablu23/Sudp/internal/config"
	"github.com/Pablu23/Sudp/internal/transport"
)

type Options struct {
	LocalAddress string
	LocalPort    int
	Insecure     bool
	// AwaitReply reads one message back after every line sent.
	AwaitReply bool
	Config     *config.Config
	Logger     log.FieldLogger
}

func NewDefaultOptions() *Options {
	return &Options{
		LocalAddress: "0.0.0.0",
		AwaitReply:   true,
		Config:       config.Default(),
		Logger:       log.StandardLogger(),
	}
}

type Client struct {
	channel common.MessageChannel
	options *Options
	log     log.FieldLogger
}

// New binds an ephemeral local port unless LocalPort is set.
func New(opts ...func(*Options)) (*Client, error) {
	options := NewDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	conn, err := transport.Bind(options.LocalAddress, options.LocalPort)
	if err != nil {
		return nil, err
	}

	client, err := newClient(conn, options)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

func NewOnConn(conn transport.Datagram, opts ...func(*Options)) (*Client, error) {
	options := NewDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return newClient(conn, options)
}

func newClient(conn transport.Datagram, options *Options) (*Client, error) {
	channel, err := options.Config.Open(conn, options.Insecure, options.Logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		channel: channel,
		options: options,
		log:     options.Logger,
	}, nil
}

// Dial resolves address:port and connects to it.
func (client *Client) Dial(address string, port int) error {
	addr, err := transport.ResolveUDPAddr(address, port)
	if err != nil {
		return err
	}
	return client.Connect(addr)
}

func (client *Client) Connect(addr net.Addr) error {
	if err := client.channel.Connect(addr); err != nil {
		return err
	}
	client.log.WithFields(log.Fields{
		"peer": client.channel.PeerAddress(),
		"port": client.channel.PeerPort(),
	}).Info("Connected")
	return nil
}

// Run sends every line of in as one message and, with AwaitReply, writes the
// reply to out.
func (client *Client) Run(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Bytes()
		if err := client.channel.Send(line); err != nil {
			return err
		}
		client.log.WithField("length", len(line)).Debug("Sent line")

		if !client.options.AwaitReply {
			continue
		}
		reply, err := client.channel.Receive()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, string(reply)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (client *Client) Send(message []byte) error {
	return client.channel.Send(message)
}

func (client *Client) Receive() ([]byte, error) {
	return client.channel.Receive()
}

func (client *Client) Close() error {
	return client.channel.Close()
}
