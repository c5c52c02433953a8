// Package observability provides the logging, metrics, and tracing
// primitives shared by the ingestor, processor, and delivery services.
package observability

import "time"

// LogLevel defines log message severity.
type LogLevel string

// Log levels, ordered least to most severe.
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// Logger is the structured, leveled logging interface used throughout
// the pipeline. Every long-running component takes one by constructor
// injection rather than calling the global log package.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	// WithPrefix returns a child logger tagged with the given component name.
	WithPrefix(prefix string) Logger
	// With returns a child logger that merges fields into every call.
	With(fields map[string]interface{}) Logger
}

// MetricsClient is the metrics-recording interface backed by Prometheus.
type MetricsClient interface {
	RecordCounter(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)

	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordDuration(name string, duration time.Duration, labels map[string]string)
	StartTimer(name string, labels map[string]string) func()

	Close() error
}
