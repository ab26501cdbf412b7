// Package config holds the daemon configuration, populated from flags,
// environment and config file through viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Queue   QueueConfig
	Block   BlockConfig
	Logging LoggingConfig
}

// ServerConfig configures the HTTP collaborator surface.
type ServerConfig struct {
	Address string
}

// StorageConfig selects the block log backend. An empty DSN selects the
// non-durable in-memory store.
type StorageConfig struct {
	PostgresDSN string
}

// QueueConfig bounds the submission queue.
type QueueConfig struct {
	Capacity int
	MaxAge   time.Duration
}

// BlockConfig bounds block size and assembly cadence.
type BlockConfig struct {
	MaxEntries       int
	MaxBytes         int64
	Interval         time.Duration
	FailureThreshold int
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level string
}

// FromViper reads the configuration out of the given viper instance.
func FromViper(v *viper.Viper) Config {
	return Config{
		Server: ServerConfig{
			Address: v.GetString("server.address"),
		},
		Storage: StorageConfig{
			PostgresDSN: v.GetString("storage.postgres-dsn"),
		},
		Queue: QueueConfig{
			Capacity: v.GetInt("queue.capacity"),
			MaxAge:   v.GetDuration("queue.max-age"),
		},
		Block: BlockConfig{
			MaxEntries:       v.GetInt("block.max-entries"),
			MaxBytes:         v.GetInt64("block.max-bytes"),
			Interval:         v.GetDuration("block.interval"),
			FailureThreshold: v.GetInt("block.failure-threshold"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("logging.level"),
		},
	}
}

// Validate rejects configurations the sequencer cannot run with.
func (c Config) Validate() error {
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Block.MaxEntries <= 0 {
		return fmt.Errorf("block.max-entries must be positive, got %d", c.Block.MaxEntries)
	}
	if c.Block.MaxBytes < 0 {
		return fmt.Errorf("block.max-bytes must not be negative, got %d", c.Block.MaxBytes)
	}
	if c.Block.Interval <= 0 {
		return fmt.Errorf("block.interval must be positive, got %s", c.Block.Interval)
	}
	if c.Queue.MaxAge < 0 {
		return fmt.Errorf("queue.max-age must not be negative, got %s", c.Queue.MaxAge)
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	return nil
}
