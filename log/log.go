package log

import (
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

type (
	Level  = zapcore.Level
	Field  = zap.Field
	Option = zap.Option
)

const (
	DebugLevel Level = zap.DebugLevel
	InfoLevel  Level = zap.InfoLevel
	WarnLevel  Level = zap.WarnLevel
	ErrorLevel Level = zap.ErrorLevel
	FatalLevel Level = zap.FatalLevel
)

// Logger wraps a zap.Logger. The zero value is not usable, use New or DevLogger.
type Logger struct {
	l     *zap.Logger
	level zap.AtomicLevel
}

type ctxKey struct{}

var (
	WithCaller    = zap.WithCaller
	AddCallerSkip = zap.AddCallerSkip

	String   = zap.String
	Int      = zap.Int
	Int32    = zap.Int32
	Int64    = zap.Int64
	Uint32   = zap.Uint32
	Uint64   = zap.Uint64
	Float32  = zap.Float32
	Float64  = zap.Float64
	Bool     = zap.Bool
	Any      = zap.Any
	Time     = zap.Time
	Duration = zap.Duration
	Strings  = zap.Strings
)

func ErrorField(err error) Field {
	return zap.Error(err)
}

// New creates a logger producing json output
func New(out io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return newLogger(zapcore.NewJSONEncoder(cfg), out, level, opts...)
}

// DevLogger creates a logger producing human readable console output
func DevLogger(out io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly + ".000")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return newLogger(zapcore.NewConsoleEncoder(cfg), out, level, opts...)
}

//nolint:whitespace // editor/linter issue
func newLogger(
	enc zapcore.Encoder, out io.Writer, level Level, opts ...Option,
) *Logger {
	if out == nil {
		out = os.Stderr
	}
	al := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(enc, zapcore.AddSync(out), al)
	return &Logger{l: zap.New(core, opts...), level: al}
}

func ParseLevel(text string) (Level, error) {
	return zapcore.ParseLevel(text)
}

// WithFilter returns a logger which only emits entries matching the zapfilter
// rules, e.g. "debug:ddp,signalr info:*"
func (l *Logger) WithFilter(rules string) (*Logger, error) {
	if rules == "" {
		return l, nil
	}
	filter, err := zapfilter.ParseRules(rules)
	if err != nil {
		return nil, err
	}
	return &Logger{
		l: l.l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapfilter.NewFilteringCore(c, filter)
		})),
		level: l.level,
	}, nil
}

// SetLevel changes the level of this logger and all loggers derived from it
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level)
}

func (l *Logger) Level() Level {
	return l.level.Level()
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{l: l.l.Named(name), level: l.level}
}

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l: l.l.With(fields...), level: l.level}
}

func (l *Logger) WithOptions(opts ...Option) *Logger {
	return &Logger{l: l.l.WithOptions(opts...), level: l.level}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.l.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.l.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.l.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.l.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.l.Fatal(msg, fields...) }

func (l *Logger) Sync() error {
	return l.l.Sync()
}

// Zap exposes the underlying zap logger for libraries requiring one
func (l *Logger) Zap() *zap.Logger {
	return l.l
}

var std = DevLogger(os.Stderr, InfoLevel, WithCaller(true), AddCallerSkip(1))

var (
	Debug = std.Debug
	Info  = std.Info
	Warn  = std.Warn
	Error = std.Error
	Fatal = std.Fatal
)

// ResetDefault replaces the default logger used by the package level functions.
// Not safe for concurrent use, call it during startup.
func ResetDefault(l *Logger) {
	std = l
	Debug = std.Debug
	Info = std.Info
	Warn = std.Warn
	Error = std.Error
	Fatal = std.Fatal
}

func Default() *Logger {
	return std
}

func Sync() error {
	return std.Sync()
}

func AddToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// GetFromContext returns the logger stored in ctx or the default logger
func GetFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return std
}
