package logging

import "go.uber.org/zap/zapcore"

// newSampledCore samples entries from Debug to Warn per message. Errors
// always pass. zap keeps no counters for TraceLevel, so trace entries are
// gated by Level alone.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	return zapcore.NewTee(
		levelRangeCore{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel},
		zapcore.NewSamplerWithOptions(
			levelRangeCore{Core: core, min: TraceLevel, max: zapcore.WarnLevel},
			cfg.Tick.Duration(),
			cfg.Initial,
			cfg.Thereafter,
		),
	)
}

// levelRangeCore passes entries with min <= level <= max to Core.
type levelRangeCore struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c levelRangeCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && lvl <= c.max && c.Core.Enabled(lvl)
}

func (c levelRangeCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level < c.min || e.Level > c.max {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c levelRangeCore) With(fields []zapcore.Field) zapcore.Core {
	return levelRangeCore{Core: c.Core.With(fields), min: c.min, max: c.max}
}
