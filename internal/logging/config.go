package logging

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/otelkit/internal/config"
)

// Config selects the level, encoding and outputs of a Logger.
type Config struct {
	Level  zapcore.Level     `koanf:"level"`
	Format string            `koanf:"format"` // json or console
	Output OutputConfig      `koanf:"output"`
	Caller CallerConfig      `koanf:"caller"`
	Fields map[string]string `koanf:"fields"`

	// Baggage adds one baggage.<key> field per baggage member in the context.
	Baggage bool `koanf:"baggage"`

	Sampling  SamplingConfig  `koanf:"sampling"`
	Redaction RedactionConfig `koanf:"redaction"`
}

type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`
}

type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// SamplingConfig caps repeated entries below Error. Within each Tick the
// first Initial entries with a given message are kept, then every
// Thereafter-th; zero drops the rest.
type SamplingConfig struct {
	Enabled    bool            `koanf:"enabled"`
	Tick       config.Duration `koanf:"tick"`
	Initial    int             `koanf:"initial"`
	Thereafter int             `koanf:"thereafter"`
}

// RedactionConfig masks field values before they reach any output. Keys
// match field keys case-insensitively, and a baggage.<key> field matches
// <key>. Patterns match string values.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Keys     []string `koanf:"keys"`
	Patterns []string `koanf:"patterns"`
}

const maxPatternLen = 200

// NewDefaultConfig logs JSON at info to stdout and the OTel bridge.
func NewDefaultConfig() *Config {
	return &Config{
		Level:   zapcore.InfoLevel,
		Format:  "json",
		Output:  OutputConfig{Stdout: true, OTEL: true},
		Caller:  CallerConfig{Enabled: true, Skip: 1},
		Baggage: true,
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Keys: []string{
				"authorization", "password", "secret", "token",
				"api_key", "cookie", "user.email",
			},
			Patterns: []string{`(?i)bearer\s+\S+`},
		},
	}
}

// Validate reports every problem with c, joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("format must be json or console, got %q", c.Format))
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		errs = append(errs, errNoOutput)
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		errs = append(errs, fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip))
	}

	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			errs = append(errs, errors.New("sampling tick must be > 0"))
		}
		if c.Sampling.Initial < 0 || c.Sampling.Thereafter < 0 {
			errs = append(errs, errors.New("sampling initial and thereafter must be >= 0"))
		}
	}
	if c.Redaction.Enabled {
		for _, k := range c.Redaction.Keys {
			if k == "" {
				errs = append(errs, errors.New("redaction key cannot be empty"))
			}
		}
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				errs = append(errs, fmt.Errorf("redaction pattern longer than %d chars", maxPatternLen))
				continue
			}
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("invalid redaction pattern %q: %w", p, err))
			}
		}
	}

	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch {
		case k == "":
			errs = append(errs, errors.New("field key cannot be empty"))
		case c.Fields[k] == "":
			errs = append(errs, fmt.Errorf("field %q has empty value", k))
		}
	}

	return errors.Join(errs...)
}
