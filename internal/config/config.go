// Package config defines all configuration for the simulator.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via MSIM_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Symbol   string         `mapstructure:"symbol"`
	Kernel   KernelConfig   `mapstructure:"kernel"`
	Latency  LatencyConfig  `mapstructure:"latency"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Trader   TraderConfig   `mapstructure:"trader"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// KernelConfig paces the virtual clock.
//
//   - TickMs: virtual milliseconds advanced per wall-clock tick.
//   - StartNs: virtual time the clock starts from.
type KernelConfig struct {
	TickMs  int64 `mapstructure:"tick_ms"`
	StartNs int64 `mapstructure:"start_ns"`
}

// LatencyConfig tunes the two-stage RPC latency model.
//
//   - RPCUpMs: agent → exchange network leg.
//   - RPCDownMs: exchange → agent network leg.
//   - ComputeMs: exchange-side processing delay, uplink only.
//   - DownJitterMs: symmetric uniform jitter on the downlink.
//   - Seed: PRNG seed; identical seeds reproduce identical runs.
type LatencyConfig struct {
	RPCUpMs      int64 `mapstructure:"rpc_up_ms"`
	RPCDownMs    int64 `mapstructure:"rpc_down_ms"`
	ComputeMs    int64 `mapstructure:"compute_ms"`
	DownJitterMs int64 `mapstructure:"down_jitter_ms"`
	Seed         int64 `mapstructure:"seed"`
}

// ExchangeConfig controls the exchange agent.
type ExchangeConfig struct {
	Depth           int   `mapstructure:"depth"`
	PipelineDelayMs int64 `mapstructure:"pipeline_delay_ms"`
}

// TraderConfig seeds the human trader's ledger.
type TraderConfig struct {
	Cash string `mapstructure:"cash"` // decimal dollars, e.g. "10000"
}

// GatewayConfig controls the HTTP/WebSocket surface.
type GatewayConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SinkConfig sets where the CSV event streams are written.
type SinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides
// (MSIM_SYMBOL, MSIM_GATEWAY_PORT, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbol", "ACME")
	v.SetDefault("kernel.tick_ms", 200)
	v.SetDefault("latency.rpc_up_ms", 200)
	v.SetDefault("latency.rpc_down_ms", 200)
	v.SetDefault("latency.compute_ms", 300)
	v.SetDefault("exchange.depth", 10)
	v.SetDefault("trader.cash", "10000")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("sink.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Kernel.TickMs <= 0 {
		return fmt.Errorf("kernel.tick_ms must be > 0")
	}
	if c.Latency.RPCUpMs < 0 || c.Latency.RPCDownMs < 0 || c.Latency.ComputeMs < 0 {
		return fmt.Errorf("latency legs must be >= 0")
	}
	if c.Latency.DownJitterMs < 0 {
		return fmt.Errorf("latency.down_jitter_ms must be >= 0")
	}
	if c.Latency.DownJitterMs > c.Latency.RPCDownMs {
		return fmt.Errorf("latency.down_jitter_ms must not exceed latency.rpc_down_ms")
	}
	if c.Exchange.Depth <= 0 {
		return fmt.Errorf("exchange.depth must be > 0")
	}
	if c.Gateway.Enabled && (c.Gateway.Port < 1 || c.Gateway.Port > 65535) {
		return fmt.Errorf("gateway.port must be a valid port")
	}
	if c.Sink.Enabled && c.Sink.DataDir == "" {
		return fmt.Errorf("sink.data_dir is required when sink.enabled")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}
