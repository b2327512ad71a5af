package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Format represents the output format for log messages.
type Format int

const (
	FormatNormal Format = iota
	FormatJSON
)

// ParseLevel converts a string to a Level. Case-insensitive. Defaults to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// ValidLevel reports whether s names a known level.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error", "fatal":
		return true
	}
	return false
}

// ParseFormat converts a string to a Format. Case-insensitive. Defaults to FormatNormal.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	default:
		return FormatNormal
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "???"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// KV is an ordered key-value pair for structured event logging.
type KV struct {
	Key   string
	Value string
}

// Logger provides leveled, dual-output logging on top of zap.
//
// Without a log file:
//   - DEBUG/INFO messages → stdout
//   - WARN/ERROR/FATAL messages → stderr
//   - Event messages → stdout
//
// With a log file:
//   - All messages (at or above level) → file
//   - Event messages additionally → stdout
//   - WARN/ERROR/FATAL additionally → stderr
type Logger struct {
	mu     sync.Mutex
	level  Level
	format Format
	file   io.Writer
	stdout io.Writer
	stderr io.Writer

	log    *zap.Logger
	events *zap.Logger
}

// New creates a Logger at the given level with no file output.
func New(level Level) *Logger {
	return newWithWriters(level, os.Stdout, os.Stderr)
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{
		level:  LevelFatal,
		stdout: io.Discard,
		stderr: io.Discard,
		log:    zap.NewNop(),
		events: zap.NewNop(),
	}
}

func newWithWriters(level Level, stdout, stderr io.Writer) *Logger {
	l := &Logger{level: level, stdout: stdout, stderr: stderr}
	l.rebuild()
	return l
}

// SetFormat sets the output format (normal or JSON).
func (l *Logger) SetFormat(f Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = f
	l.rebuild()
}

// SetFile sets the log file writer. Pass nil to disable file logging.
func (l *Logger) SetFile(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file = w
	l.rebuild()
}

// SetStdout redirects output normally written to stdout, e.g. to stderr
// while stdout carries data.
func (l *Logger) SetStdout(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stdout = w
	l.rebuild()
}

// HasFile reports whether a log file is configured.
func (l *Logger) HasFile() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Sync flushes any buffered entries.
func (l *Logger) Sync() {
	log, events := l.cores()
	_ = log.Sync()
	_ = events.Sync()
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(format string, args ...any) { l.emit(LevelDebug, format, args...) }

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...any) { l.emit(LevelInfo, format, args...) }

// Warn logs at WARN level.
func (l *Logger) Warn(format string, args ...any) { l.emit(LevelWarn, format, args...) }

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...any) { l.emit(LevelError, format, args...) }

// Fatal logs at FATAL level then exits.
func (l *Logger) Fatal(format string, args ...any) {
	l.emit(LevelFatal, format, args...)
	l.Sync()
	os.Exit(1)
}

// Event emits a structured lifecycle event with ordered key-value pairs.
// Events always emit regardless of log level.
//
// Normal format: 2006/01/02 15:04:05	EVENT	FETCH START	{"id": "...", "itag": "18"}
// JSON format:   {"time":"...","level":"event","message":"FETCH START","id":"...","itag":"18"}
func (l *Logger) Event(event string, kvs ...KV) {
	_, events := l.cores()
	fields := make([]zap.Field, 0, len(kvs))
	for _, kv := range kvs {
		fields = append(fields, zap.String(kv.Key, kv.Value))
	}
	events.Info(event, fields...)
}

// Writer returns an io.Writer that logs each line at the given level.
// Useful for capturing subprocess output.
func (l *Logger) Writer(level Level) io.Writer {
	return &writerAdapter{logger: l, level: level}
}

func (l *Logger) emit(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	log, _ := l.cores()
	msg := fmt.Sprintf(format, args...)
	switch level {
	case LevelDebug:
		log.Debug(msg)
	case LevelInfo:
		log.Info(msg)
	case LevelWarn:
		log.Warn(msg)
	default:
		// FATAL is written at ERROR severity with a FATAL label; zap's own
		// Fatal would exit before Sync.
		log.Error(msg, levelLabel(level)...)
	}
}

func levelLabel(level Level) []zap.Field {
	if level == LevelFatal {
		return []zap.Field{zap.String("severity", level.String())}
	}
	return nil
}

func (l *Logger) cores() (*zap.Logger, *zap.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.log, l.events
}

// rebuild assembles the zap cores. Must be called with l.mu held.
func (l *Logger) rebuild() {
	enc := l.encoder(false)
	threshold := l.level.zap()

	low := zap.LevelEnablerFunc(func(lv zapcore.Level) bool { return lv >= threshold && lv < zapcore.WarnLevel })
	high := zap.LevelEnablerFunc(func(lv zapcore.Level) bool { return lv >= threshold && lv >= zapcore.WarnLevel })
	all := zap.LevelEnablerFunc(func(lv zapcore.Level) bool { return lv >= threshold })

	stdout := zapcore.Lock(zapcore.AddSync(l.stdout))
	stderr := zapcore.Lock(zapcore.AddSync(l.stderr))

	var cores []zapcore.Core
	if l.file != nil {
		cores = append(cores,
			zapcore.NewCore(enc, zapcore.AddSync(l.file), all),
			zapcore.NewCore(enc, stderr, high),
		)
	} else {
		cores = append(cores,
			zapcore.NewCore(enc, stdout, low),
			zapcore.NewCore(enc, stderr, high),
		)
	}
	l.log = zap.New(zapcore.NewTee(cores...))

	evEnc := l.encoder(true)
	always := zap.LevelEnablerFunc(func(zapcore.Level) bool { return true })
	evCores := []zapcore.Core{zapcore.NewCore(evEnc, stdout, always)}
	if l.file != nil {
		evCores = append(evCores, zapcore.NewCore(evEnc, zapcore.AddSync(l.file), always))
	}
	l.events = zap.New(zapcore.NewTee(evCores...))
}

func (l *Logger) encoder(event bool) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "message",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	if l.format == FormatJSON {
		cfg.EncodeTime = zapcore.RFC3339TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		if event {
			cfg.EncodeLevel = constLevel("event")
		}
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	cfg.EncodeLevel = bracketLevel
	if event {
		cfg.EncodeLevel = constLevel("[EVENT]")
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func bracketLevel(lv zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + lv.CapitalString() + "]")
}

func constLevel(s string) zapcore.LevelEncoder {
	return func(_ zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(s)
	}
}

type writerAdapter struct {
	logger *Logger
	level  Level
}

func (w *writerAdapter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n\r")
	if msg != "" {
		w.logger.emit(w.level, "%s", msg)
	}
	return len(p), nil
}
