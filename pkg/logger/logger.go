package logger

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log attribute
type Field = zap.Field

// Logger wraps zap.Logger so components can carry their own context fields
type Logger struct {
	*zap.Logger
}

// New builds a logger at the given level. format "json" selects the
// production encoder with ISO8601 timestamps, anything else the console one.
func New(level, format string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	if format == "json" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	zl, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}
	return &Logger{zl}, nil
}

// NewForTesting logs everything at debug level to stderr
func NewForTesting() *Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	zl, err := cfg.Build()
	if err != nil {
		return NewNop()
	}
	return &Logger{zl}
}

func NewNop() *Logger {
	return &Logger{zap.NewNop()}
}

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// WithComponent names the subsystem emitting the log lines
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(zap.String("component", name))
}

// WithPlatform tags log lines with a platform integration
func (l *Logger) WithPlatform(platform string) *Logger {
	return l.With(zap.String("platform", platform))
}

var defaultLogger = NewNop()

// SetDefault replaces the process-wide logger and redirects the standard
// library log package to it.
func SetDefault(l *Logger) {
	defaultLogger = l
	zap.ReplaceGlobals(l.Logger)
	zap.RedirectStdLog(l.Logger)
}

func Default() *Logger {
	return defaultLogger
}

func String(key, value string) Field {
	return zap.String(key, value)
}

func Int(key string, value int) Field {
	return zap.Int(key, value)
}

func Int64(key string, value int64) Field {
	return zap.Int64(key, value)
}

func Float64(key string, value float64) Field {
	return zap.Float64(key, value)
}

func Bool(key string, value bool) Field {
	return zap.Bool(key, value)
}

func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}

func Any(key string, value interface{}) Field {
	return zap.Any(key, value)
}

func Err(err error) Field {
	return zap.Error(err)
}

// Sugared helpers for call sites that format their own message

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Sugar().Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Sugar().Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Sugar().Errorf(format, args...)
}
