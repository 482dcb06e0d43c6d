package logging

import (
	"errors"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BridgeName is the instrumentation scope of records emitted through the
// OTel log bridge.
const BridgeName = "github.com/fyrsmithlabs/otelkit"

var errNoOutput = errors.New("at least one output must be enabled and available")

// newCore builds the enabled outputs, an encoder on stdout and the otelzap
// bridge into provider, and assembles them.
func newCore(cfg *Config, provider log.LoggerProvider) (zapcore.Core, error) {
	var outputs []zapcore.Core

	if cfg.Output.Stdout {
		outputs = append(outputs, zapcore.NewCore(
			newEncoder(cfg.Format),
			zapcore.Lock(os.Stdout),
			cfg.Level,
		))
	}
	if cfg.Output.OTEL && provider != nil {
		bridge := otelzap.NewCore(BridgeName, otelzap.WithLoggerProvider(provider))
		outputs = append(outputs, levelRangeCore{Core: bridge, min: cfg.Level, max: zapcore.FatalLevel})
	}
	return assemble(cfg, outputs...)
}

// assemble redacts each output, tees them and samples the result.
func assemble(cfg *Config, outputs ...zapcore.Core) (zapcore.Core, error) {
	if len(outputs) == 0 {
		return nil, errNoOutput
	}
	r, err := newRedactor(cfg.Redaction)
	if err != nil {
		return nil, err
	}
	for i := range outputs {
		outputs[i] = r.wrap(outputs[i])
	}

	core := outputs[0]
	if len(outputs) > 1 {
		core = zapcore.NewTee(outputs...)
	}
	return newSampledCore(core, cfg.Sampling), nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel

	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// encodeLevel names TraceLevel, which zap would print as "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}
