package core

import "github.com/hupe1980/taskgraph/logging"

// LoggerAdapter wraps a logging.Logger and exposes convenience methods
// (LogDebug/LogInfo/LogWarn/LogError). It guarantees a non-nil logger by
// substituting a NoOpLogger when constructed with nil. Engine components
// embed it.
type LoggerAdapter struct {
	logger logging.Logger
	attrs  []any
}

// NewLoggerAdapter constructs a LoggerAdapter with a non-nil logger.
func NewLoggerAdapter(l logging.Logger) *LoggerAdapter {
	if l == nil {
		l = logging.NoOpLogger{}
	}

	return &LoggerAdapter{logger: l}
}

// With returns an adapter that prepends the key/value pairs in args to every
// entry, e.g. a run id shared by all log lines of one run.
func (l *LoggerAdapter) With(args ...any) *LoggerAdapter {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, args...)

	return &LoggerAdapter{logger: l.logger, attrs: attrs}
}

func (l *LoggerAdapter) args(args []any) []any {
	if len(l.attrs) == 0 {
		return args
	}

	return append(append(make([]any, 0, len(l.attrs)+len(args)), l.attrs...), args...)
}

// Logger returns the underlying logger.
func (l *LoggerAdapter) Logger() logging.Logger {
	return l.logger
}

// LogDebug logs a debug message.
func (l *LoggerAdapter) LogDebug(msg string, args ...any) {
	l.logger.Debug(msg, l.args(args)...)
}

// LogInfo logs an info message.
func (l *LoggerAdapter) LogInfo(msg string, args ...any) {
	l.logger.Info(msg, l.args(args)...)
}

// LogWarn logs a warning message.
func (l *LoggerAdapter) LogWarn(msg string, args ...any) {
	l.logger.Warn(msg, l.args(args)...)
}

// LogError logs an error message.
func (l *LoggerAdapter) LogError(msg string, args ...any) {
	l.logger.Error(msg, l.args(args)...)
}
