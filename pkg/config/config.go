package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Defaults for every tunable. All of them can be overridden through
// TACORE_* environment variables or an optional YAML config file.
const (
	DefaultFrontendPort = 5555
	DefaultBackendPort  = 5556
	DefaultHealthPort   = 5557
	DefaultMetricsPort  = 9100
	DefaultWorkers      = 4
	DefaultStopTimeout  = 5 * time.Second
)

// Config holds the broker process configuration.
type Config struct {
	FrontendPort int           `mapstructure:"frontend_port"`
	BackendPort  int           `mapstructure:"backend_port"`
	HealthPort   int           `mapstructure:"health_port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	Workers      int           `mapstructure:"workers"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	LogLevel     string        `mapstructure:"log_level"`
	LogJSON      bool          `mapstructure:"log_json"`
}

// FrontendEndpoint returns the bind address for the client-facing socket.
func (c *Config) FrontendEndpoint() string {
	return fmt.Sprintf("tcp://*:%d", c.FrontendPort)
}

// BackendEndpoint returns the bind address for the worker-facing socket.
func (c *Config) BackendEndpoint() string {
	return fmt.Sprintf("tcp://*:%d", c.BackendPort)
}

// BackendConnectEndpoint returns the address workers dial to reach the broker.
func (c *Config) BackendConnectEndpoint() string {
	return fmt.Sprintf("tcp://127.0.0.1:%d", c.BackendPort)
}

// HealthEndpoint returns the bind address for the health socket.
func (c *Config) HealthEndpoint() string {
	return fmt.Sprintf("tcp://*:%d", c.HealthPort)
}

// Load reads configuration from the environment and, if path is non-empty,
// from a YAML config file. Environment variables win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TACORE")
	v.AutomaticEnv()

	v.SetDefault("frontend_port", DefaultFrontendPort)
	v.SetDefault("backend_port", DefaultBackendPort)
	v.SetDefault("health_port", DefaultHealthPort)
	v.SetDefault("metrics_port", DefaultMetricsPort)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("stop_timeout", DefaultStopTimeout)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate checks port ranges and pool size.
func (c *Config) Validate() error {
	ports := map[string]int{
		"frontend_port": c.FrontendPort,
		"backend_port":  c.BackendPort,
		"health_port":   c.HealthPort,
		"metrics_port":  c.MetricsPort,
	}
	seen := make(map[int]string, len(ports))
	for name, port := range ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s %d out of range", name, port)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s and %s both use port %d", name, other, port)
		}
		seen[port] = name
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout)
	}

	return nil
}
