// Package config handles configuration loading and writing for the swarm.
// Values come from built-in defaults, an optional YAML file, and SWARM_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. SWARM_QUEEN_TASK_TIMEOUT.
const EnvPrefix = "SWARM"

// Config holds all configuration for the swarm.
type Config struct {
	Queen   QueenConfig   `mapstructure:"queen"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Log     LogConfig     `mapstructure:"log"`
	Stream  StreamConfig  `mapstructure:"stream"`
	NATS    NATSConfig    `mapstructure:"nats"`
}

// QueenConfig holds decision policy settings.
type QueenConfig struct {
	ID                  string              `mapstructure:"id"`
	MaxConcurrentAgents int                 `mapstructure:"max_concurrent_agents"`
	WaitBudget          time.Duration       `mapstructure:"wait_budget"`
	TaskTimeout         time.Duration       `mapstructure:"task_timeout"`
	CapacityWeight      float64             `mapstructure:"capacity_weight"`
	RoleMatchWeight     float64             `mapstructure:"role_match_weight"`
	RetainSettled       int                 `mapstructure:"retain_settled"`
	Schemas             map[string][]string `mapstructure:"schemas"`
}

// PoolConfig holds worker pool ceilings.
type PoolConfig struct {
	MaxWorkers         int     `mapstructure:"max_workers"`
	MaxCPU             float64 `mapstructure:"max_cpu"`
	MaxMemory          float64 `mapstructure:"max_memory"`
	DefaultCPUShare    float64 `mapstructure:"default_cpu_share"`
	DefaultMemoryShare float64 `mapstructure:"default_memory_share"`
}

// MonitorConfig holds metrics aggregation settings.
type MonitorConfig struct {
	ConsensusWindow    int           `mapstructure:"consensus_window"`
	ConsensusThreshold float64       `mapstructure:"consensus_threshold"`
	Interval           time.Duration `mapstructure:"interval"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StreamConfig holds the websocket/HTTP listener settings.
type StreamConfig struct {
	Addr string `mapstructure:"addr"`
}

// NATSConfig holds the optional NATS egress settings. With URL empty an
// embedded server is started.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Queen: QueenConfig{
			MaxConcurrentAgents: 4,
			WaitBudget:          5 * time.Second,
			TaskTimeout:         30 * time.Second,
			CapacityWeight:      0.6,
			RoleMatchWeight:     0.4,
			RetainSettled:       1024,
			Schemas: map[string][]string{
				"build":  {"files"},
				"deploy": {"target"},
			},
		},
		Pool: PoolConfig{
			MaxWorkers:         16,
			MaxCPU:             16,
			MaxMemory:          64,
			DefaultCPUShare:    1,
			DefaultMemoryShare: 2,
		},
		Monitor: MonitorConfig{
			ConsensusWindow:    50,
			ConsensusThreshold: 0.7,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Stream: StreamConfig{
			Addr: ":8090",
		},
		NATS: NATSConfig{
			Port:    -1,
			DataDir: filepath.Join(os.TempDir(), "swarm-nats"),
		},
	}
}

// Load reads configuration. An empty path looks for swarm.yaml in the
// working directory and tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	} else {
		v.SetConfigName("swarm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("queen.id", d.Queen.ID)
	v.SetDefault("queen.max_concurrent_agents", d.Queen.MaxConcurrentAgents)
	v.SetDefault("queen.wait_budget", d.Queen.WaitBudget.String())
	v.SetDefault("queen.task_timeout", d.Queen.TaskTimeout.String())
	v.SetDefault("queen.capacity_weight", d.Queen.CapacityWeight)
	v.SetDefault("queen.role_match_weight", d.Queen.RoleMatchWeight)
	v.SetDefault("queen.retain_settled", d.Queen.RetainSettled)
	v.SetDefault("queen.schemas", d.Queen.Schemas)

	v.SetDefault("pool.max_workers", d.Pool.MaxWorkers)
	v.SetDefault("pool.max_cpu", d.Pool.MaxCPU)
	v.SetDefault("pool.max_memory", d.Pool.MaxMemory)
	v.SetDefault("pool.default_cpu_share", d.Pool.DefaultCPUShare)
	v.SetDefault("pool.default_memory_share", d.Pool.DefaultMemoryShare)

	v.SetDefault("monitor.consensus_window", d.Monitor.ConsensusWindow)
	v.SetDefault("monitor.consensus_threshold", d.Monitor.ConsensusThreshold)
	v.SetDefault("monitor.interval", d.Monitor.Interval.String())

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("stream.addr", d.Stream.Addr)

	v.SetDefault("nats.enabled", d.NATS.Enabled)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.port", d.NATS.Port)
	v.SetDefault("nats.data_dir", d.NATS.DataDir)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string

	if c.Queen.MaxConcurrentAgents <= 0 {
		problems = append(problems, "queen.max_concurrent_agents must be positive")
	}
	if c.Queen.WaitBudget < 0 {
		problems = append(problems, "queen.wait_budget must not be negative")
	}
	if c.Queen.TaskTimeout <= 0 {
		problems = append(problems, "queen.task_timeout must be positive")
	}
	if c.Queen.CapacityWeight < 0 || c.Queen.RoleMatchWeight < 0 {
		problems = append(problems, "queen weights must not be negative")
	} else if math.Abs(c.Queen.CapacityWeight+c.Queen.RoleMatchWeight-1) > 1e-6 {
		problems = append(problems, "queen.capacity_weight and queen.role_match_weight must sum to 1")
	}
	if c.Queen.RetainSettled < 0 {
		problems = append(problems, "queen.retain_settled must not be negative")
	}
	if c.Pool.MaxCPU < 0 || c.Pool.MaxMemory < 0 || c.Pool.DefaultCPUShare < 0 || c.Pool.DefaultMemoryShare < 0 {
		problems = append(problems, "pool resources must not be negative")
	}
	if c.Monitor.ConsensusWindow <= 0 {
		problems = append(problems, "monitor.consensus_window must be positive")
	}
	if c.Monitor.ConsensusThreshold < 0 || c.Monitor.ConsensusThreshold > 1 {
		problems = append(problems, "monitor.consensus_threshold must be within [0,1]")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// fileConfig is the on-disk YAML layout. Durations are written as strings.
type fileConfig struct {
	Queen struct {
		ID                  string              `yaml:"id,omitempty"`
		MaxConcurrentAgents int                 `yaml:"max_concurrent_agents"`
		WaitBudget          string              `yaml:"wait_budget"`
		TaskTimeout         string              `yaml:"task_timeout"`
		CapacityWeight      float64             `yaml:"capacity_weight"`
		RoleMatchWeight     float64             `yaml:"role_match_weight"`
		RetainSettled       int                 `yaml:"retain_settled"`
		Schemas             map[string][]string `yaml:"schemas,omitempty"`
	} `yaml:"queen"`
	Pool struct {
		MaxWorkers         int     `yaml:"max_workers"`
		MaxCPU             float64 `yaml:"max_cpu"`
		MaxMemory          float64 `yaml:"max_memory"`
		DefaultCPUShare    float64 `yaml:"default_cpu_share"`
		DefaultMemoryShare float64 `yaml:"default_memory_share"`
	} `yaml:"pool"`
	Monitor struct {
		ConsensusWindow    int     `yaml:"consensus_window"`
		ConsensusThreshold float64 `yaml:"consensus_threshold"`
		Interval           string  `yaml:"interval"`
	} `yaml:"monitor"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Stream struct {
		Addr string `yaml:"addr"`
	} `yaml:"stream"`
	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url,omitempty"`
		Port    int    `yaml:"port"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"nats"`
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var f fileConfig
	f.Queen.ID = cfg.Queen.ID
	f.Queen.MaxConcurrentAgents = cfg.Queen.MaxConcurrentAgents
	f.Queen.WaitBudget = cfg.Queen.WaitBudget.String()
	f.Queen.TaskTimeout = cfg.Queen.TaskTimeout.String()
	f.Queen.CapacityWeight = cfg.Queen.CapacityWeight
	f.Queen.RoleMatchWeight = cfg.Queen.RoleMatchWeight
	f.Queen.RetainSettled = cfg.Queen.RetainSettled
	f.Queen.Schemas = cfg.Queen.Schemas
	f.Pool.MaxWorkers = cfg.Pool.MaxWorkers
	f.Pool.MaxCPU = cfg.Pool.MaxCPU
	f.Pool.MaxMemory = cfg.Pool.MaxMemory
	f.Pool.DefaultCPUShare = cfg.Pool.DefaultCPUShare
	f.Pool.DefaultMemoryShare = cfg.Pool.DefaultMemoryShare
	f.Monitor.ConsensusWindow = cfg.Monitor.ConsensusWindow
	f.Monitor.ConsensusThreshold = cfg.Monitor.ConsensusThreshold
	f.Monitor.Interval = cfg.Monitor.Interval.String()
	f.Log.Level = cfg.Log.Level
	f.Log.Format = cfg.Log.Format
	f.Stream.Addr = cfg.Stream.Addr
	f.NATS.Enabled = cfg.NATS.Enabled
	f.NATS.URL = cfg.NATS.URL
	f.NATS.Port = cfg.NATS.Port
	f.NATS.DataDir = cfg.NATS.DataDir

	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Write saves cfg as YAML to path, creating parent directories.
func Write(path string, cfg Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
