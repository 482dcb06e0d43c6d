package config

import (
	"fmt"
	"strconv"
	"time"
)

// Duration decodes "250ms"-style values from YAML and the environment. A
// bare integer is milliseconds. Negative values are rejected.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	if ms, err := strconv.ParseInt(string(text), 10, 64); err == nil {
		text = []byte(strconv.FormatInt(ms, 10) + "ms")
	}
	v, err := time.ParseDuration(string(text))
	switch {
	case err != nil:
		return fmt.Errorf("invalid duration %q: %w", text, err)
	case v < 0:
		return fmt.Errorf("invalid duration %q: negative", text)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret is a config string, such as an OTLP authorization header, that
// prints and marshals as a placeholder. Value returns the raw string.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return "config.Secret(" + s.String() + ")" }

// MarshalText also covers encoding/json, which quotes the result.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

// SecretValues returns the raw values of m for exporter options, or nil.
func SecretValues(m map[string]Secret) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = string(v)
	}
	return out
}
