package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides leveled logging (debug/info/warning/error) to files and stdout/stderr.
type Logger struct {
	sugar *zap.SugaredLogger
	files []*os.File
}

// NewLogger creates a Logger writing to the console and to per-level files in logDir.
// An empty logDir logs to the console only.
func NewLogger(logDir, level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)
	jsonEncoder := zapcore.NewJSONEncoder(encoderCfg)

	belowError := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= lvl && l < zapcore.ErrorLevel })
	errorsOnly := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), belowError),
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), errorsOnly),
	}

	l := &Logger{}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		levels := []struct {
			name    string
			enabler zapcore.LevelEnabler
		}{
			{"info.log", zap.LevelEnablerFunc(func(z zapcore.Level) bool { return z >= lvl && z < zapcore.WarnLevel })},
			{"warning.log", zap.LevelEnablerFunc(func(z zapcore.Level) bool { return z == zapcore.WarnLevel })},
			{"error.log", errorsOnly},
		}
		for _, lv := range levels {
			file, err := os.OpenFile(filepath.Join(logDir, lv.name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				l.closeFiles()
				return nil, fmt.Errorf("failed to open log file %s: %w", lv.name, err)
			}
			l.files = append(l.files, file)
			cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(file), lv.enabler))
		}
	}

	l.sugar = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return l, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// With returns a child logger that adds key/value to every entry.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(key, value)}
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Close flushes buffered entries and closes the log files.
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	return l.closeFiles()
}

func (l *Logger) closeFiles() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}
