// Package natsbus publishes swarm egress events over NATS.
package natsbus

import (
	"fmt"
	"os"
	"time"

	"github.com/blackms/swarm-core/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Server is an embedded NATS server.
type Server struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

// NewServer starts an embedded server and waits until it accepts clients.
// Port -1 picks a random port.
func NewServer(cfg config.NATSConfig) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	opts := &natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Server{
		server: ns,
		cfg:    cfg,
	}, nil
}

// ClientURL returns the URL clients connect to.
func (s *Server) ClientURL() string {
	return s.server.ClientURL()
}

// Close shuts the server down and waits for it to exit.
func (s *Server) Close() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
