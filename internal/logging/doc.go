// Package logging is the diagnostics logger of the telemetry runtime.
//
// A Logger is a zap logger whose methods take a context. Each entry is
// prefixed with trace_id, span_id and trace_sampled from the active span,
// plus baggage.<key> fields when Config.Baggage is set. Below Debug sits
// TraceLevel for per-span detail.
//
//	logger, err := logging.NewLogger(cfg, loggerProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info(ctx, "pipeline built", zap.Int("processors", n))
//
// Entries go to stdout, to the OTel log bridge (otelzap) when a provider is
// given and Output.OTEL is set, or to both through a tee. Each output masks
// the values of sensitive keys, baggage members included, and of strings
// matching Redaction.Patterns. Repeated messages below Error are sampled.
// Use Secret to log a config.Secret by length only.
//
// Tests use NewTestLogger, which records entries in memory:
//
//	tl := logging.NewTestLogger()
//	tl.Warn(ctx, "span exporters ignored")
//	tl.AssertLogged(t, zapcore.WarnLevel, "span exporters ignored")
package logging
