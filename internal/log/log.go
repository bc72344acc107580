package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	slogmulti "github.com/samber/slog-multi"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var nameToLevel = map[string]Level{"debug": Debug, "info": Info, "warn": Warn, "warning": Warn, "error": Error}
var slogLevels = map[Level]slog.Level{Debug: slog.LevelDebug, Info: slog.LevelInfo, Warn: slog.LevelWarn, Error: slog.LevelError}

// ParseLevel maps a level name to a Level, defaulting to Info.
func ParseLevel(s string) Level {
	if l, ok := nameToLevel[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return Info
}

// Logger is a leveled key/value logger. A nil *Logger discards everything.
type Logger struct {
	sl     *slog.Logger
	fields map[string]string
}

// New logs text records to stderr at the level named by MIXSEARCH_LOG_LEVEL.
func New() *Logger {
	return NewWithWriter(os.Stderr, ParseLevel(os.Getenv("MIXSEARCH_LOG_LEVEL")), false)
}

// NewWithWriter logs to w; json selects JSON records instead of text.
func NewWithWriter(w io.Writer, level Level, json bool) *Logger {
	opts := &slog.HandlerOptions{Level: slogLevels[level]}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{sl: slog.New(h), fields: map[string]string{}}
}

// NewWithFile writes text to stderr and JSON to path. The returned func closes
// the file. If the file cannot be opened the logger falls back to stderr only.
func NewWithFile(path string, level Level) (*Logger, func() error) {
	opts := &slog.HandlerOptions{Level: slogLevels[level]}
	stderr := slog.NewTextHandler(os.Stderr, opts)
	if path == "" {
		return &Logger{sl: slog.New(stderr), fields: map[string]string{}}, func() error { return nil }
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l := &Logger{sl: slog.New(stderr), fields: map[string]string{}}
		l.Error("failed to open log file, using stderr only", "error", err.Error(), "file", path)
		return l, func() error { return nil }
	}
	h := slogmulti.Fanout(stderr, slog.NewJSONHandler(f, opts))
	return &Logger{sl: slog.New(h), fields: map[string]string{}}, f.Close
}

// Discard returns a logger that drops all records.
func Discard() *Logger { return nil }

func (l *Logger) With(kv map[string]string) *Logger {
	if l == nil {
		return nil
	}
	child := &Logger{sl: l.sl, fields: make(map[string]string, len(l.fields)+len(kv))}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range kv {
		child.fields[k] = v
	}
	return child
}

func (l *Logger) write(level Level, msg string, kv map[string]any) {
	if l == nil || l.sl == nil {
		return
	}
	sl := slogLevels[level]
	if !l.sl.Enabled(context.Background(), sl) {
		return
	}
	rec := make(map[string]any, len(l.fields)+len(kv))
	for k, v := range l.fields {
		rec[k] = v
	}
	for k, v := range kv {
		rec[k] = v
	}
	maskSecrets(rec)
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, rec[k]))
	}
	l.sl.LogAttrs(context.Background(), sl, msg, attrs...)
}

func (l *Logger) Debug(msg string, kv ...any) { l.write(Debug, msg, toMap(kv...)) }
func (l *Logger) Info(msg string, kv ...any)  { l.write(Info, msg, toMap(kv...)) }
func (l *Logger) Warn(msg string, kv ...any)  { l.write(Warn, msg, toMap(kv...)) }
func (l *Logger) Error(msg string, kv ...any) { l.write(Error, msg, toMap(kv...)) }

func toMap(kv ...any) map[string]any {
	m := make(map[string]any)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		m[k] = kv[i+1]
	}
	return m
}

// maskSecrets redacts likely secret values in-place.
func maskSecrets(m map[string]any) {
	secretKeys := []string{"key", "token", "secret", "password", "authorization", "api_key", "apikey", "bearer"}
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			continue
		}
		lowerK := strings.ToLower(k)
		masked := false
		for _, p := range secretKeys {
			if strings.Contains(lowerK, p) {
				m[k] = redact(s)
				masked = true
				break
			}
		}
		if masked {
			continue
		}
		if strings.HasPrefix(strings.ToLower(s), "bearer ") {
			if parts := strings.SplitN(s, " ", 2); len(parts) == 2 {
				m[k] = "Bearer " + redact(parts[1])
			}
			continue
		}
		if _, err := uuid.Parse(s); err == nil {
			continue
		}
		if strings.HasPrefix(s, "sk-") || looksSecret(s) {
			m[k] = redact(s)
		}
	}
}

// long unbroken tokens without path or context separators
var secretLike = regexp.MustCompile(`^[A-Za-z0-9_\-]{32,}$`)

func looksSecret(s string) bool { return secretLike.MatchString(s) }

func redact(s string) string {
	n := len(s)
	if n <= 8 {
		return "***"
	}
	return fmt.Sprintf("%s***%s", s[:4], s[n-4:])
}
