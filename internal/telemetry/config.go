package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/orchestrd/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`

	// Insecure disables TLS on the OTLP connection. Only permitted for
	// local endpoints.
	Insecure bool `koanf:"insecure"`

	// SamplingRate is the trace sampling ratio, 0.0 to 1.0.
	SamplingRate float64 `koanf:"sampling_rate"`

	// MetricsInterval is the periodic metric export interval.
	MetricsInterval config.Duration `koanf:"metrics_interval"`

	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns defaults. Telemetry is off by default: most
// deployments have no collector running.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		ServiceName:     "orchestrd",
		ServiceVersion:  "0.1.0",
		Insecure:        true,
		SamplingRate:    1.0,
		MetricsInterval: config.Duration(15 * time.Second),
		ShutdownTimeout: config.Duration(5 * time.Second),
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; use a local endpoint or enable TLS")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	if c.MetricsInterval.Duration() <= 0 {
		return fmt.Errorf("metrics_interval must be positive")
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

// isLocalEndpoint reports whether the endpoint is a loopback address.
func (c *Config) isLocalEndpoint() bool {
	host := c.Endpoint

	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(c.Endpoint, "::1")
}
