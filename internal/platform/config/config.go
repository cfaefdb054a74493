// Package config holds the server settings and tuning presets.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

const (
	EnvAddr     = "CROWD_ADDR"
	EnvLogLevel = "CROWD_LOG_LEVEL"
	EnvDBPath   = "CROWD_DB_PATH"
)

// ServerConfig holds everything the composition root needs.
type ServerConfig struct {
	Addr      string `toml:"addr" yaml:"addr"`
	LogLevel  string `toml:"log_level" yaml:"log_level"`
	DBPath    string `toml:"db_path" yaml:"db_path"`
	FrameRate int    `toml:"frame_rate" yaml:"frame_rate"` // driver frames per second
	Seed      int64  `toml:"seed" yaml:"seed"`

	// Empty or "*" allows every origin.
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`

	// Population
	PoolSize    int     `toml:"pool_size" yaml:"pool_size"`
	SpawnHalfX  float64 `toml:"spawn_half_x" yaml:"spawn_half_x"`
	SpawnHalfZ  float64 `toml:"spawn_half_z" yaml:"spawn_half_z"`
	FloorMargin float64 `toml:"floor_margin" yaml:"floor_margin"`

	Scheduler tick.Config `toml:"scheduler" yaml:"scheduler"`

	// Channel buffers
	CommandQueueSize int `toml:"command_queue_size" yaml:"command_queue_size"`
	ClientSendBuffer int `toml:"client_send_buffer" yaml:"client_send_buffer"`
	BroadcastBuffer  int `toml:"broadcast_buffer" yaml:"broadcast_buffer"`
}

// DefaultConfig returns sensible defaults for production.
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		DBPath:    "data/crowd.db",
		FrameRate: 60,
		Seed:      1,

		PoolSize:    200,
		SpawnHalfX:  20,
		SpawnHalfZ:  20,
		FloorMargin: 1,

		Scheduler: tick.DefaultConfig(),

		CommandQueueSize: 256,
		ClientSendBuffer: 64,
		BroadcastBuffer:  256,
	}
}

// StressTestConfig returns a large population with aggressive batching.
func StressTestConfig() *ServerConfig {
	cfg := DefaultConfig()
	cfg.FrameRate = 120
	cfg.PoolSize = 5000
	cfg.SpawnHalfX, cfg.SpawnHalfZ = 200, 200
	cfg.Scheduler = tick.Config{BatchSize: 250, TickIntervalFrames: 5}
	cfg.CommandQueueSize = 4096
	cfg.ClientSendBuffer = 128
	cfg.BroadcastBuffer = 512
	return cfg
}

// LowResourceConfig returns minimal settings for development.
func LowResourceConfig() *ServerConfig {
	cfg := DefaultConfig()
	cfg.FrameRate = 30
	cfg.PoolSize = 50
	cfg.Scheduler = tick.Config{BatchSize: 5, TickIntervalFrames: 20}
	cfg.CommandQueueSize = 32
	cfg.ClientSendBuffer = 8
	cfg.BroadcastBuffer = 16
	return cfg
}

// Preset returns a named preset.
func Preset(name string) (*ServerConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return DefaultConfig(), nil
	case "stress":
		return StressTestConfig(), nil
	case "low", "dev":
		return LowResourceConfig(), nil
	default:
		return nil, fmt.Errorf("config: unknown preset %q", name)
	}
}

// Load overlays a TOML or YAML file (picked by extension) onto base.
func Load(path string, base *ServerConfig) (*ServerConfig, error) {
	if base == nil {
		base = DefaultConfig()
	}
	cfg := *base

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("load config %s: unsupported extension", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from CROWD_* environment variables.
func (c *ServerConfig) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		c.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBPath)); v != "" {
		c.DBPath = v
	}
}

// Validate rejects settings the server cannot run with.
func (c *ServerConfig) Validate() error {
	var errs []error
	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame_rate must be positive, got %d", c.FrameRate))
	}
	if c.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("pool_size must not be negative, got %d", c.PoolSize))
	}
	if c.SpawnHalfX <= 0 || c.SpawnHalfZ <= 0 {
		errs = append(errs, errors.New("spawn area half extents must be positive"))
	}
	if c.CommandQueueSize <= 0 || c.ClientSendBuffer <= 0 || c.BroadcastBuffer <= 0 {
		errs = append(errs, errors.New("buffer sizes must be positive"))
	}
	return errors.Join(errs...)
}

// FrameInterval is the wall-clock spacing between driver frames.
func (c *ServerConfig) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}
