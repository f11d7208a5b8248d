// Package config holds the server settings, their defaults and the TOML file loader.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// views into the read buffer are uint16
const maxReadBuffer = 1<<16 - 1

// Duration is a time.Duration decoded from TOML strings like "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Backlog int    `toml:"backlog"`
	DocRoot string `toml:"doc_root"`

	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
	MaxConns  int `toml:"max_conns"`

	ReadBufferSize  int `toml:"read_buffer_size"`
	WriteBufferSize int `toml:"write_buffer_size"`
	MaxPathLen      int `toml:"max_path_len"`

	TickInterval  Duration `toml:"tick_interval"`
	IdleTimeout   Duration `toml:"idle_timeout"`
	ActiveTimeout Duration `toml:"active_timeout"`

	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the stock settings: 8 workers, a 10000 deep queue, 65535 connections,
// 2048/1024 byte buffers and a 5s tick with 15s initial and 10s active idle windows.
func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Backlog:         16,
		DocRoot:         "./resources",
		Workers:         8,
		QueueSize:       10000,
		MaxConns:        65535,
		ReadBufferSize:  2048,
		WriteBufferSize: 1024,
		MaxPathLen:      200,
		TickInterval:    Duration{5 * time.Second},
		IdleTimeout:     Duration{15 * time.Second},
		ActiveTimeout:   Duration{10 * time.Second},
		LogLevel:        "info",
	}
}

// Load decodes path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if und := md.Undecoded(); len(und) > 0 {
		keys := make([]string, len(und))
		for i, k := range und {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks ranges; Port 0 is allowed and means an ephemeral port.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Port >= 0 && c.Port <= 65535, "port %d out of range", c.Port)
	check(c.Backlog > 0, "backlog must be positive")
	check(c.DocRoot != "", "doc_root is empty")
	check(c.Workers > 0, "workers must be positive")
	check(c.QueueSize > 0, "queue_size must be positive")
	check(c.MaxConns > 0, "max_conns must be positive")
	check(c.ReadBufferSize > 0 && c.ReadBufferSize <= maxReadBuffer,
		"read_buffer_size %d not in 1..%d", c.ReadBufferSize, maxReadBuffer)
	check(c.WriteBufferSize >= 128, "write_buffer_size %d below 128", c.WriteBufferSize)
	check(c.MaxPathLen > 1, "max_path_len must exceed 1")
	check(c.TickInterval.Duration > 0, "tick_interval must be positive")
	check(c.IdleTimeout.Duration > 0, "idle_timeout must be positive")
	check(c.ActiveTimeout.Duration > 0, "active_timeout must be positive")

	return errors.Join(errs...)
}
