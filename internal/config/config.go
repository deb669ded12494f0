package config

import (
	"fmt"
	"time"
)

// Protocol selects which worker loop a run uses.
type Protocol string

const (
	ProtocolUDP       Protocol = "udp"
	ProtocolTCP       Protocol = "tcp"
	ProtocolHTTP      Protocol = "http"
	ProtocolSlow      Protocol = "slow"
	ProtocolWebSocket Protocol = "ws"
)

// Valid reports whether p names a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolUDP, ProtocolTCP, ProtocolHTTP, ProtocolSlow, ProtocolWebSocket:
		return true
	}
	return false
}

// Defaults and ceilings. Ceilings bound what a caller may request; the
// run itself is clamped to them, never rejected for exceeding them.
const (
	DefaultConcurrency     = 50
	DefaultDuration        = 30 * time.Second
	DefaultTimeout         = 1500 * time.Millisecond
	DefaultPayloadSize     = 1200
	DefaultBufferCount     = 512
	DefaultSlowConnections = 150
	DefaultSlowInterval    = 10 * time.Second
	DefaultGracePeriod     = 5 * time.Second
	DefaultMaxConcurrency  = 512
	DefaultMaxDuration     = 10 * time.Minute
)

// Config carries everything the CLI needs to drive one run.
type Config struct {
	TargetHost    string        `mapstructure:"target"`
	TargetPort    int           `mapstructure:"port"`
	Protocol      Protocol      `mapstructure:"protocol"`
	Concurrency   int           `mapstructure:"concurrency"`
	Rate          int           `mapstructure:"rate"`
	Duration      time.Duration `mapstructure:"duration"`
	MaxOperations int64         `mapstructure:"total"`
	Timeout       time.Duration `mapstructure:"timeout"`

	PayloadSize int `mapstructure:"payload_size"`
	BufferCount int `mapstructure:"buffer_count"`

	SlowConnections int           `mapstructure:"slow_connections"`
	SlowInterval    time.Duration `mapstructure:"slow_interval"`

	AllowPublic bool          `mapstructure:"allow_public"`
	GracePeriod time.Duration `mapstructure:"graceful_shutdown"`

	// Ceilings, adjustable for authorized-test environments.
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MaxDuration    time.Duration `mapstructure:"max_duration"`

	Dashboard  bool   `mapstructure:"dashboard"`
	JSONOutput bool   `mapstructure:"json_output"`
	LogLevel   string `mapstructure:"log_level"`
	LockFile   string `mapstructure:"lock_file"`
	ConfigFile string `mapstructure:"-"`

	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig configures the optional OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Protocol    string `mapstructure:"protocol"` // "grpc" or "http"
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// Validate checks required fields and rejects nonsensical values.
func (c *Config) Validate() error {
	if c.TargetHost == "" {
		return fmt.Errorf("target host is required")
	}
	if c.TargetPort < 1 || c.TargetPort > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.TargetPort)
	}
	if !c.Protocol.Valid() {
		return fmt.Errorf("unknown protocol %q (want udp, tcp, http, slow, or ws)", c.Protocol)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Duration <= 0 && c.MaxOperations <= 0 {
		return fmt.Errorf("a duration or a total-operation cap is required")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must be non-negative, got %d", c.Rate)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("unknown tracing protocol %q (want grpc or http)", c.Tracing.Protocol)
		}
	}
	return nil
}

// Normalize fills defaults and clamps requests to the configured ceilings.
func (c *Config) Normalize() {
	if c.Protocol == "" {
		c.Protocol = ProtocolUDP
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Duration == 0 {
		c.Duration = DefaultDuration
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PayloadSize <= 0 {
		c.PayloadSize = DefaultPayloadSize
	}
	if c.BufferCount <= 0 {
		c.BufferCount = DefaultBufferCount
	}
	if c.SlowConnections <= 0 {
		c.SlowConnections = DefaultSlowConnections
	}
	if c.SlowInterval <= 0 {
		c.SlowInterval = DefaultSlowInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}

	if c.Concurrency > c.MaxConcurrency {
		c.Concurrency = c.MaxConcurrency
	}
	if c.Duration > c.MaxDuration {
		c.Duration = c.MaxDuration
	}
}
