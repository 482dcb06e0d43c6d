package logging

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/otelkit/internal/config"
)

const (
	redactedValue   = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

// Secret logs s as "[REDACTED:<len>]", never its value.
func Secret(key string, s config.Secret) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(s.Value()))+"]")
}

// redactor rewrites fields whose key or string value is sensitive.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// newRedactor returns nil when redaction is off.
func newRedactor(cfg RedactionConfig) (*redactor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Keys))}
	for _, k := range cfg.Keys {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) sensitiveKey(key string) bool {
	key = strings.ToLower(key)
	if _, ok := r.keys[key]; ok {
		return true
	}
	if member, ok := strings.CutPrefix(key, "baggage."); ok {
		_, ok = r.keys[member]
		return ok
	}
	return false
}

// apply returns fields with sensitive values replaced. fields is copied
// only when something changes.
func (r *redactor) apply(fields []zapcore.Field) []zapcore.Field {
	out := fields
	copied := false
	for i, f := range fields {
		replacement, ok := r.replace(f)
		if !ok {
			continue
		}
		if !copied {
			out = append([]zapcore.Field(nil), fields...)
			copied = true
		}
		out[i] = replacement
	}
	return out
}

func (r *redactor) replace(f zapcore.Field) (zapcore.Field, bool) {
	if r.sensitiveKey(f.Key) {
		return zap.String(f.Key, redactedValue), true
	}
	if f.Type != zapcore.StringType {
		return f, false
	}
	for _, re := range r.patterns {
		if re.MatchString(f.String) {
			return zap.String(f.Key, redactedPattern), true
		}
	}
	return f, false
}

// wrap applies r to everything written through core. A nil r returns core.
func (r *redactor) wrap(core zapcore.Core) zapcore.Core {
	if r == nil {
		return core
	}
	return &redactCore{Core: core, r: r}
}

// redactCore must wrap an output core directly: Check registers the wrapper
// itself, so Write reaches the output without the inner Check.
type redactCore struct {
	zapcore.Core
	r *redactor
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(c.r.apply(fields)), r: c.r}
}

func (c *redactCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *redactCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(e, c.r.apply(fields))
}
