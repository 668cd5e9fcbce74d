package server

import (
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pablu23/Sudp/internal/client"
	"github.com/Pablu23/Sudp/internal/config"
	"github.com/Pablu23/Sudp/internal/transport"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TimeoutInterval = 20 * time.Millisecond
	cfg.PrimeBits = 256
	cfg.KeyBits = 128
	return cfg
}

type setup struct {
	server *Server
	client *client.Client
	hook   *logtest.Hook
	served chan error
}

func start(t *testing.T, insecure, echo bool) *setup {
	t.Helper()
	pipe := transport.NewPipe()
	logger, hook := logtest.NewNullLogger()
	cfg := testConfig()

	srv, err := NewOnConn(pipe.End(0), func(o *Options) {
		o.Insecure = insecure
		o.Echo = echo
		o.HandleInterrupt = false
		o.Config = cfg
		o.Logger = logger
	})
	require.NoError(t, err)

	cl, err := client.NewOnConn(pipe.End(1), func(o *client.Options) {
		o.Insecure = insecure
		o.AwaitReply = echo
		o.Config = cfg
		o.Logger = logger
	})
	require.NoError(t, err)

	s := &setup{server: srv, client: cl, hook: hook, served: make(chan error, 1)}
	go func() {
		s.served <- srv.Serve()
	}()

	t.Cleanup(func() {
		cl.Close()
		srv.Shutdown()
		pipe.Close()
	})

	require.NoError(t, cl.Connect(srv.Addr()))
	return s
}

func TestEcho(t *testing.T) {
	for _, insecure := range []bool{false, true} {
		s := start(t, insecure, true)

		var out strings.Builder
		require.NoError(t, s.client.Run(strings.NewReader("hello\n\nworld\n"), &out))
		assert.Equal(t, "hello\n\nworld\n", out.String(), "insecure=%v", insecure)

		sessions, received := s.server.Stats()
		assert.Equal(t, 1, sessions)
		assert.Equal(t, 3, received)
	}
}

func TestLogsMessages(t *testing.T) {
	s := start(t, false, false)

	require.NoError(t, s.client.Run(strings.NewReader("first\nsecond\n"), nil))
	require.Eventually(t, func() bool {
		_, received := s.server.Stats()
		return received == 2
	}, 2*time.Second, 10*time.Millisecond)

	var messages []string
	for _, entry := range s.hook.AllEntries() {
		if entry.Message == "Received message" {
			messages = append(messages, entry.Data["message"].(string))
			assert.Equal(t, "pipe", entry.Data["peer"])
			assert.Equal(t, 1001, entry.Data["port"])
		}
	}
	assert.Equal(t, []string{"first", "second"}, messages)
}

func TestShutdown(t *testing.T) {
	s := start(t, true, true)

	require.NoError(t, s.server.Shutdown())
	select {
	case err := <-s.served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestNextSession(t *testing.T) {
	s := start(t, true, true)
	require.NoError(t, s.client.Close())

	require.Eventually(t, func() bool {
		for _, entry := range s.hook.AllEntries() {
			if entry.Message == "Session ended" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
