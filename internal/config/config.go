package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for busd.
type Config struct {
	Listeners ListenersConfig `mapstructure:"listeners"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
}

// ListenersConfig controls which transports are bound.
type ListenersConfig struct {
	UnixPath string `mapstructure:"unix_path"`
	TCPAddr  string `mapstructure:"tcp_addr"`
	FIFOPath string `mapstructure:"fifo_path"`
}

// BrokerConfig holds the broker's per-connection operational parameters.
type BrokerConfig struct {
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BufSize   int           `mapstructure:"buf_size"`
	PIDFile   string        `mapstructure:"pid_file"`
}

// AdminConfig controls the enumerate-clients HTTP surface, served on the
// same listener as metrics.
type AdminConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// RuntimeConfig controls the Go scheduler's parallelism knob. Workers,
// when positive, overrides GOMAXPROCS.
type RuntimeConfig struct {
	Workers int `mapstructure:"workers"`
}

// Load reads configuration from environment variables and an optional
// config file.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("listeners.unix_path", "/tmp/busd.sock")
	v.SetDefault("listeners.tcp_addr", "")
	v.SetDefault("listeners.fifo_path", "")

	v.SetDefault("broker.queue_size", 8192)
	v.SetDefault("broker.timeout", 5*time.Second)
	v.SetDefault("broker.buf_size", 16384)
	v.SetDefault("broker.pid_file", "")

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.endpoint", "/clients")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":7780")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("runtime.workers", 0)

	v.SetConfigName("busd")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("BUSD")
	v.AutomaticEnv()

	// Attempt to read a config file; absence is not an error.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Broker.QueueSize <= 0 {
		cfg.Broker.QueueSize = 8192
	}
	if cfg.Broker.BufSize <= 0 {
		cfg.Broker.BufSize = 16384
	}
	if cfg.Listeners.UnixPath == "" && cfg.Listeners.TCPAddr == "" {
		return Config{}, fmt.Errorf("config: at least one of listeners.unix_path or listeners.tcp_addr must be set")
	}

	return cfg, nil
}
