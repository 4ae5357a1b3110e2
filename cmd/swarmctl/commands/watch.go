package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackms/swarm-core/internal/infrastructure/natsbus"
	"github.com/blackms/swarm-core/internal/shared"
)

var watchURL string

// WatchCmd prints swarm events received over NATS.
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print swarm events published over NATS",
	Example: `  swarmctl watch --url nats://127.0.0.1:4222`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := watchURL
		if url == "" {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			url = cfg.NATS.URL
		}
		if url == "" {
			return fmt.Errorf("no NATS url: pass --url or set nats.url")
		}

		client, err := natsbus.NewClientFromURL(url)
		if err != nil {
			return err
		}
		defer client.Close()

		enc := json.NewEncoder(os.Stdout)
		sub, err := client.SubscribeEvents(func(ev shared.Event) {
			enc.Encode(ev)
		})
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		defer sub.Unsubscribe()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	WatchCmd.Flags().StringVarP(&watchURL, "url", "u", "", "NATS server URL (default nats.url)")
}
