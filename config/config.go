package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Protocol constants. These mirror what the companion host ships with;
// the yaml file only needs to override them for non-standard deployments
// or for tests that want millisecond-scale timers.
const (
	DefaultDiscoveryPort    = 8888
	DefaultProtocolPort     = 8000
	DefaultWsPath           = "/ws"
	DefaultFallbackSSID     = "KAIROS-Hotspot"
	DefaultFallbackPassword = "kairos2024"
	DefaultFallbackHostIP   = "192.168.137.1"

	DefaultDiscoveryTimeout     = 8  // seconds
	DefaultConnectTimeout       = 10 // seconds
	DefaultHeartbeatInterval    = 5  // seconds
	DefaultMaxReconnectAttempts = 10
	DefaultRequestTimeout       = 30 // seconds, host REST calls

	DefaultPayloadPoolSize = 64
	DefaultChunkBufferSize = 65536 // matches the host's send chunk size
)

// DefaultBackoffSchedule is the per-attempt reconnect delay table in
// seconds. Attempts beyond the table length reuse the last entry.
var DefaultBackoffSchedule = []int{1, 2, 3, 5, 5, 5, 5, 5, 5, 5}

// Config is the application configuration read from config.yaml.
// Durations are plain integer seconds here; lib components convert them
// to time.Duration when their runtime configs are derived.
type Config struct {
	DiscoveryPort    int    `yaml:"discoveryPort"`
	ProtocolPort     int    `yaml:"protocolPort"`
	WsPath           string `yaml:"wsPath"`
	FallbackSSID     string `yaml:"fallbackSSID"`
	FallbackPassword string `yaml:"fallbackPassword"`
	FallbackHostIP   string `yaml:"fallbackHostIP"`

	DiscoveryTimeout     int   `yaml:"discoveryTimeout"`  // seconds
	ConnectTimeout       int   `yaml:"connectTimeout"`    // seconds
	HeartbeatInterval    int   `yaml:"heartbeatInterval"` // seconds
	BackoffSchedule      []int `yaml:"backoffSchedule"`   // seconds per attempt
	MaxReconnectAttempts int   `yaml:"maxReconnectAttempts"`
	RequestTimeout       int   `yaml:"requestTimeout"` // seconds

	DownloadDir     string `yaml:"downloadDir"`
	PayloadPoolSize int    `yaml:"payloadPoolSize"`
	ChunkBufferSize int    `yaml:"chunkBufferSize"` // bytes per pooled chunk buffer

	Debug bool `yaml:"debug"`
}

// AppConfig holds the process-wide configuration once ReadConfig has run.
var AppConfig *Config

// DefaultConfig returns a Config populated with the protocol defaults.
func DefaultConfig() *Config {
	return &Config{
		DiscoveryPort:        DefaultDiscoveryPort,
		ProtocolPort:         DefaultProtocolPort,
		WsPath:               DefaultWsPath,
		FallbackSSID:         DefaultFallbackSSID,
		FallbackPassword:     DefaultFallbackPassword,
		FallbackHostIP:       DefaultFallbackHostIP,
		DiscoveryTimeout:     DefaultDiscoveryTimeout,
		ConnectTimeout:       DefaultConnectTimeout,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		BackoffSchedule:      append([]int(nil), DefaultBackoffSchedule...),
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		RequestTimeout:       DefaultRequestTimeout,
		DownloadDir:          "downloads",
		PayloadPoolSize:      DefaultPayloadPoolSize,
		ChunkBufferSize:      DefaultChunkBufferSize,
	}
}

// ReadConfig loads the yaml file at path on top of the defaults, so a
// partial file only overrides the keys it names.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("discoveryPort %d out of range", c.DiscoveryPort)
	}
	if c.ProtocolPort <= 0 || c.ProtocolPort > 65535 {
		return fmt.Errorf("protocolPort %d out of range", c.ProtocolPort)
	}
	if c.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discoveryTimeout must be positive, got %d", c.DiscoveryTimeout)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connectTimeout must be positive, got %d", c.ConnectTimeout)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeatInterval must be positive, got %d", c.HeartbeatInterval)
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("maxReconnectAttempts must be positive, got %d", c.MaxReconnectAttempts)
	}
	if len(c.BackoffSchedule) == 0 {
		return fmt.Errorf("backoffSchedule must not be empty")
	}
	for i, d := range c.BackoffSchedule {
		if d <= 0 {
			return fmt.Errorf("backoffSchedule[%d] must be positive, got %d", i, d)
		}
	}
	if c.PayloadPoolSize <= 0 {
		return fmt.Errorf("payloadPoolSize must be positive, got %d", c.PayloadPoolSize)
	}
	if c.ChunkBufferSize <= 0 {
		return fmt.Errorf("chunkBufferSize must be positive, got %d", c.ChunkBufferSize)
	}
	return nil
}
