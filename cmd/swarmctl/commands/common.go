// Package commands provides CLI command implementations.
package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/blackms/swarm-core/internal/config"
	"github.com/blackms/swarm-core/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

// ConfigPath is bound to the root --config flag.
var ConfigPath string

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
