package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/bxm/internal/envutil"
)

// LevelTrace is a custom trace level below debug
const LevelTrace = slog.Level(-8)

var (
	currentLevel atomic.Value // slog.Level

	outputMu sync.Mutex
	output   io.Writer = os.Stderr
)

func init() {
	level, err := parseLevel(envutil.First("BXM_LOG_LEVEL", "LOG_LEVEL"))
	if err != nil {
		level = slog.LevelInfo
	}
	currentLevel.Store(level)
	updateHandler()
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "ERROR":
		return slog.LevelError, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "TRACE":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

var levelNames = map[slog.Level]string{
	slog.LevelError: "error",
	slog.LevelWarn:  "warn",
	slog.LevelInfo:  "info",
	slog.LevelDebug: "debug",
	LevelTrace:      "trace",
}

func replaceAttr(jsonFormat bool) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			if jsonFormat {
				return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return slog.String(slog.TimeKey, a.Value.Time().Format("15:04:05.000"))
		case slog.LevelKey:
			if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
				return slog.String(slog.LevelKey, "TRACE")
			}
		}
		return a
	}
}

// updateHandler rebuilds the default logger from the current level, format
// and output.
func updateHandler() {
	outputMu.Lock()
	w := output
	outputMu.Unlock()

	jsonFormat := strings.EqualFold(envutil.First("BXM_LOG_FORMAT", "LOG_FORMAT"), "json")
	opts := &slog.HandlerOptions{
		Level:       currentLevel.Load().(slog.Level),
		ReplaceAttr: replaceAttr(jsonFormat),
	}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// SetOutput redirects log output, mainly for tests
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
	updateHandler()
}

// SetLogLevel atomically updates the log level at runtime
func SetLogLevel(level string) error {
	newLevel, err := parseLevel(level)
	if err != nil {
		return err
	}

	currentLevel.Store(newLevel)
	updateHandler()

	LogDebugWithFields("logging", "Log level changed", map[string]any{
		"new_level": GetLogLevel(),
	})
	return nil
}

// GetLogLevel returns the current log level as a string
func GetLogLevel() string {
	if name, ok := levelNames[currentLevel.Load().(slog.Level)]; ok {
		return name
	}
	return "unknown"
}

func Logf(format string, args ...any) {
	slog.Default().Info(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	slog.Default().Error(fmt.Sprintf(format, args...))
}

func LogWarn(format string, args ...any) {
	slog.Default().Warn(fmt.Sprintf(format, args...))
}

func LogDebug(format string, args ...any) {
	slog.Default().Debug(fmt.Sprintf(format, args...))
}

// buildArgs flattens fields in key order so lines diff cleanly
func buildArgs(component string, fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", component)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, k, fields[k])
	}
	return args
}

func logWithFields(level slog.Level, component, message string, fields map[string]any) {
	ctx := context.Background()
	if !slog.Default().Enabled(ctx, level) {
		return
	}
	slog.Default().Log(ctx, level, message, buildArgs(component, fields)...)
}

func LogInfoWithFields(component, message string, fields map[string]any) {
	logWithFields(slog.LevelInfo, component, message, fields)
}

func LogDebugWithFields(component, message string, fields map[string]any) {
	logWithFields(slog.LevelDebug, component, message, fields)
}

func LogErrorWithFields(component, message string, fields map[string]any) {
	logWithFields(slog.LevelError, component, message, fields)
}

func LogWarnWithFields(component, message string, fields map[string]any) {
	logWithFields(slog.LevelWarn, component, message, fields)
}

func LogTraceWithFields(component, message string, fields map[string]any) {
	logWithFields(LevelTrace, component, message, fields)
}

// Logger tags every record with the name of the surface that produced it
// (background, popup, options, sidepanel, page) plus any bound fields.
type Logger struct {
	name   string
	fields map[string]any
}

// Named returns a Logger for the given surface name.
func Named(name string) Logger {
	return Logger{name: name}
}

// Name returns the surface name.
func (l Logger) Name() string {
	return l.name
}

// With returns a copy of l that adds fields to every record
func (l Logger) With(fields map[string]any) Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	maps.Copy(merged, l.fields)
	maps.Copy(merged, fields)
	return Logger{name: l.name, fields: merged}
}

func (l Logger) merge(fields map[string]any) map[string]any {
	if len(l.fields) == 0 {
		return fields
	}
	merged := maps.Clone(l.fields)
	maps.Copy(merged, fields)
	return merged
}

func (l Logger) Info(message string, fields map[string]any) {
	LogInfoWithFields(l.name, message, l.merge(fields))
}

func (l Logger) Warn(message string, fields map[string]any) {
	LogWarnWithFields(l.name, message, l.merge(fields))
}

func (l Logger) Error(message string, fields map[string]any) {
	LogErrorWithFields(l.name, message, l.merge(fields))
}

func (l Logger) Debug(message string, fields map[string]any) {
	LogDebugWithFields(l.name, message, l.merge(fields))
}

func (l Logger) Trace(message string, fields map[string]any) {
	LogTraceWithFields(l.name, message, l.merge(fields))
}
