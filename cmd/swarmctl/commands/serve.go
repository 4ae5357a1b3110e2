package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/blackms/swarm-core/internal/infrastructure/natsbus"
	"github.com/blackms/swarm-core/internal/infrastructure/stream"
	"github.com/blackms/swarm-core/pkg/swarm"
)

// Serve command flags
var (
	serveAddr string
	serveNATS bool
)

// ServeCmd runs the swarm and exposes its egress surfaces.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics, agents and the event stream",
	Long: `Start a swarm and expose:
  - GET /api/metrics   current metrics snapshot
  - GET /api/agents    registered agents
  - GET /api/roles     execution health per role
  - GET /ws            websocket stream of metrics, agents and topology events

With NATS enabled the same events are published to swarm.events.<type>. When
nats.url is empty an embedded server is started.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Stream.Addr = serveAddr
		}
		if serveNATS {
			cfg.NATS.Enabled = true
		}

		s, err := swarm.New(*cfg, swarm.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create swarm: %w", err)
		}
		defer s.Shutdown()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)

		server := stream.NewServer(s.Internal(), cfg.Stream, logger)
		g.Go(func() error {
			return server.Start(ctx)
		})

		if cfg.NATS.Enabled {
			url := cfg.NATS.URL
			if url == "" {
				ns, err := natsbus.NewServer(cfg.NATS)
				if err != nil {
					return err
				}
				defer ns.Close()
				url = ns.ClientURL()
				logger.Info("embedded nats server started", "url", url)
			}

			client, err := natsbus.NewClientFromURL(url)
			if err != nil {
				return err
			}
			defer client.Close()

			forwarder := natsbus.NewForwarder(client, s.Internal(), logger)
			g.Go(func() error {
				return forwarder.Run(ctx)
			})
		}

		logger.Info("swarm serving", "addr", cfg.Stream.Addr, "nats", cfg.NATS.Enabled)
		return g.Wait()
	},
}

func init() {
	ServeCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":8090", "HTTP listen address")
	ServeCmd.Flags().BoolVar(&serveNATS, "nats", false, "Publish events over NATS")
}
