package events

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// readyTimeout bounds how long an embedded broker may take to accept
// connections before startup fails.
const readyTimeout = 5 * time.Second

// EmbeddedServer is an in-process NATS broker for single-host
// deployments that want run events without operating a separate
// broker.
type EmbeddedServer struct {
	srv *natsserver.Server
}

// StartEmbedded boots an in-process NATS server and waits for it to
// accept connections. Port -1 picks a random free port.
func StartEmbedded(host string, port int, logger *zap.Logger) (*EmbeddedServer, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	opts := &natsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", readyTimeout)
	}

	if logger != nil {
		logger.Info("embedded NATS server started", zap.String("url", srv.ClientURL()))
	}
	return &EmbeddedServer{srv: srv}, nil
}

// ClientURL returns the URL local clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	return e.srv.ClientURL()
}

// Shutdown stops the broker and waits for it to wind down.
func (e *EmbeddedServer) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
