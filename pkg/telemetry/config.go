package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/otelkit/internal/config"
	"github.com/fyrsmithlabs/otelkit/internal/logging"
)

// Protocols accepted for OTLP export.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// DefaultBaggagePrefix is the attribute prefix used by BaggageDefaultPrefix.
const DefaultBaggagePrefix = "baggage"

// minBatchTimeout is the smallest batch_timeout that switches caller
// exporters from simple to batching processors.
const minBatchTimeout = time.Millisecond

// Config holds telemetry configuration.
type Config struct {
	ServiceName        string                   `koanf:"service_name"`
	ServiceVersion     string                   `koanf:"service_version"`
	Endpoint           string                   `koanf:"endpoint"`
	Protocol           string                   `koanf:"protocol"`
	Insecure           bool                     `koanf:"insecure"`
	Headers            map[string]config.Secret `koanf:"headers"`
	ResourceAttributes map[string]string        `koanf:"resource_attributes"`
	Baggage            BaggagePolicy            `koanf:"baggage"`
	BatchTimeout       config.Duration          `koanf:"batch_timeout"`
	Console            bool                     `koanf:"console"` // stdout exporters when no endpoint
	Sampling           SamplingConfig           `koanf:"sampling"`
	Metrics            MetricsConfig            `koanf:"metrics"`
	Shutdown           ShutdownConfig           `koanf:"shutdown"`
	Logging            *logging.Config          `koanf:"logging"`
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0, default 1.0
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	ExportInterval config.Duration `koanf:"export_interval"`
	Prometheus     bool            `koanf:"prometheus"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns defaults for the given service. No endpoint is
// set, so nothing leaves the process until one is configured.
func NewDefaultConfig(service string) *Config {
	return &Config{
		ServiceName: service,
		Protocol:    ProtocolGRPC,
		Baggage:     BaggageDisabled(),
		Sampling: SamplingConfig{
			Rate: 1.0,
		},
		Metrics: MetricsConfig{
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
		Logging: logging.NewDefaultConfig(),
	}
}

// LoadConfig reads config from an optional YAML file, then OTELKIT_*
// environment variables, on top of NewDefaultConfig("").
//
//	service_name: checkout
//	endpoint: localhost:4317
//	baggage: ctx            # or true, false, "", or {mode: custom, prefix: ctx}
//	batch_timeout: 200      # milliseconds, or "200ms"
//	metrics:
//	  export_interval: 15s
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig("")
	err := config.Load(config.Options{
		Path:      path,
		EnvPrefix: "OTELKIT_",
		Sections:  []string{"baggage", "sampling", "metrics", "shutdown", "logging", "logging.output", "logging.caller", "logging.sampling", "logging.redaction"},
	}, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration for errors. Every failure is a ConfigError.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return ConfigError{Field: "service_name", Reason: "is required"}
	}

	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return ConfigError{Field: "protocol", Reason: fmt.Sprintf("must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)}
	}

	if err := c.Baggage.Validate(); err != nil {
		return err
	}

	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return ConfigError{Field: "sampling.rate", Reason: fmt.Sprintf("must be between 0 and 1, got %f", c.Sampling.Rate)}
	}

	if c.Metrics.ExportInterval.Duration() <= 0 {
		return ConfigError{Field: "metrics.export_interval", Reason: "must be positive"}
	}

	if c.Shutdown.Timeout.Duration() <= 0 {
		return ConfigError{Field: "shutdown.timeout", Reason: "must be positive"}
	}

	for k := range c.ResourceAttributes {
		if k == "" {
			return ConfigError{Field: "resource_attributes", Reason: "key cannot be empty"}
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return ConfigError{Field: "logging", Reason: "invalid", Cause: err}
		}
	}

	return nil
}

func (c *Config) protocol() string {
	if c.Protocol == "" {
		return ProtocolGRPC
	}
	return c.Protocol
}

// BaggageMode selects how baggage is projected onto span attributes.
type BaggageMode string

const (
	BaggageModeDisabled BaggageMode = "disabled"
	BaggageModeDefault  BaggageMode = "default"
	BaggageModeCustom   BaggageMode = "custom"
	BaggageModeNone     BaggageMode = "none"
)

// BaggagePolicy decides which attributes a span receives from the baggage
// active when it starts. The zero value is disabled.
type BaggagePolicy struct {
	Mode   BaggageMode `koanf:"mode"`
	Prefix string      `koanf:"prefix"`
}

// BaggageDisabled projects nothing.
func BaggageDisabled() BaggagePolicy {
	return BaggagePolicy{Mode: BaggageModeDisabled}
}

// BaggageDefaultPrefix projects baggage key k as "baggage.k".
func BaggageDefaultPrefix() BaggagePolicy {
	return BaggagePolicy{Mode: BaggageModeDefault}
}

// BaggagePrefix projects baggage key k as "prefix.k". An empty prefix is the
// same as BaggageNoPrefix.
func BaggagePrefix(prefix string) BaggagePolicy {
	if prefix == "" {
		return BaggageNoPrefix()
	}
	return BaggagePolicy{Mode: BaggageModeCustom, Prefix: prefix}
}

// BaggageNoPrefix projects baggage key k as "k".
func BaggageNoPrefix() BaggagePolicy {
	return BaggagePolicy{Mode: BaggageModeNone}
}

// UnmarshalText accepts the scalar form of the baggage option: "true" is
// BaggageDefaultPrefix, "false" is BaggageDisabled and any other string is
// BaggagePrefix of it, so "" means no prefix. The {mode, prefix} map form
// decodes field by field as usual.
func (p *BaggagePolicy) UnmarshalText(text []byte) error {
	s := string(text)
	switch {
	case strings.EqualFold(s, "true"):
		*p = BaggageDefaultPrefix()
	case strings.EqualFold(s, "false"):
		*p = BaggageDisabled()
	default:
		*p = BaggagePrefix(s)
	}
	return nil
}

// Validate reports unknown modes and a custom mode without a prefix.
func (p BaggagePolicy) Validate() error {
	switch p.Mode {
	case "", BaggageModeDisabled, BaggageModeDefault, BaggageModeNone:
		return nil
	case BaggageModeCustom:
		if p.Prefix == "" {
			return ConfigError{Field: "baggage.prefix", Reason: `is required for mode "custom"; use mode "none" for unprefixed keys`}
		}
		return nil
	default:
		return ConfigError{Field: "baggage.mode", Reason: fmt.Sprintf("unrecognized value %q", p.Mode)}
	}
}

// Enabled reports whether any attributes are projected.
func (p BaggagePolicy) Enabled() bool {
	return p.Mode != "" && p.Mode != BaggageModeDisabled
}

// AttributeKey returns the span attribute key for baggage key k. Callers
// must check Enabled first.
func (p BaggagePolicy) AttributeKey(k string) string {
	switch p.Mode {
	case BaggageModeDefault:
		return DefaultBaggagePrefix + "." + k
	case BaggageModeCustom:
		return p.Prefix + "." + k
	default:
		return k
	}
}
