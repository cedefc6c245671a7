// Package log provides structured logging with node and run context.
//
// Two logger variants are available:
//   - Logger: non-sugared zap.Logger for core runtime (structured fields)
//   - SugaredLogger: printf-style logging for CLI/debug surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with baked-in node/run identity fields.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger wraps zap.SugaredLogger for printf-style logging.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewNodeLogger creates the process-wide logger with the worker's node_id
// baked in. Output defaults to os.Stderr.
func NewNodeLogger(nodeID string) *Logger {
	return newLogger(os.Stderr, zap.String("node_id", nodeID))
}

// WithRun returns a child logger with run/task identity fields added. The
// executor creates one per run, keyed by the plan's run id.
func (l *Logger) WithRun(runID, taskID string, attempt int) *Logger {
	return &Logger{zap: l.zap.With(
		zap.String("run_id", runID),
		zap.String("task_id", taskID),
		zap.Int("attempt", attempt),
	)}
}

// WithOutput returns a new logger that writes to w instead of the original
// output writer.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(encoder(), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func newLogger(writer io.Writer, fields ...zap.Field) *Logger {
	core := zapcore.NewCore(encoder(), zapcore.AddSync(writer), zapcore.DebugLevel)
	return &Logger{zap: zap.New(core).With(fields...)}
}

func encoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewJSONEncoder(cfg)
}

// Debug logs a debug message with structured fields.
func (l *Logger) Debug(message string, fields map[string]any) { l.zap.Debug(message, zap.Any("fields", fields)) }

// Info logs an info message with structured fields.
func (l *Logger) Info(message string, fields map[string]any) { l.zap.Info(message, zap.Any("fields", fields)) }

// Warn logs a warning message with structured fields.
func (l *Logger) Warn(message string, fields map[string]any) { l.zap.Warn(message, zap.Any("fields", fields)) }

// Error logs an error message with structured fields.
func (l *Logger) Error(message string, fields map[string]any) { l.zap.Error(message, zap.Any("fields", fields)) }

// Sugar returns a SugaredLogger for printf-style logging, for places where
// convenience matters more than performance.
func (l *Logger) Sugar() *SugaredLogger { return &SugaredLogger{sugar: l.zap.Sugar()} }

// Debugf logs with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) { s.sugar.Debugf(template, args...) }

// Infof logs with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) { s.sugar.Infof(template, args...) }

// Warnf logs with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) { s.sugar.Warnf(template, args...) }

// Errorf logs with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) { s.sugar.Errorf(template, args...) }

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger { return &SugaredLogger{sugar: s.sugar.With(args...)} }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.zap.Sync() }
