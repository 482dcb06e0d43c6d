package telemetry

import (
	"errors"
	"fmt"
)

// ErrFlushTimeout is reported when ForceFlush runs out of time before every
// provider finished flushing.
var ErrFlushTimeout = errors.New("telemetry: force flush deadline exceeded")

// ConfigError reports invalid or contradictory configuration. Init returns it
// before anything is installed.
type ConfigError struct {
	Field  string
	Reason string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e ConfigError) Error() string {
	msg := fmt.Sprintf("telemetry: invalid config %s: %s", e.Field, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigError) Unwrap() error {
	return e.Cause
}

// PropagationError reports baggage or trace context that could not be
// decoded or encoded. Callers never receive it from Extract; it is only
// logged, and the work continues as a new trace root.
type PropagationError struct {
	Op    string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e PropagationError) Error() string {
	return fmt.Sprintf("telemetry: %s failed: %s", e.Op, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e PropagationError) Unwrap() error {
	return e.Cause
}

// ExportError reports a failed export from one exporter. It is sent to the
// OpenTelemetry error handler and the diagnostics logger, never to
// application code, and never affects sibling exporters.
type ExportError struct {
	Exporter string
	Signal   string
	Cause    error
}

// Error implements the [builtin.error] interface.
func (e ExportError) Error() string {
	return fmt.Sprintf("telemetry: %s exporter %s failed: %s", e.Signal, e.Exporter, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ExportError) Unwrap() error {
	return e.Cause
}
