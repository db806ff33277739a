package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Logger is the leveled logging interface used across the service.
// Scoped loggers are derived with WithModule and WithFields.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})

	WithModule(module string) Logger
	WithFields(fields map[string]interface{}) Logger
}

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

type stdLogger struct {
	level  int
	out    *log.Logger
	module string
	fields map[string]interface{}
}

// NewLogger creates a logger writing to stdout, or to logFile when non-empty.
// An unopenable log file falls back to stdout rather than failing startup.
func NewLogger(level, logFile string) Logger {
	out := log.New(os.Stdout, "", log.LstdFlags)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			out.Printf("[WARN] cannot open log file %s, using stdout: %v", logFile, err)
		} else {
			out = log.New(f, "", log.LstdFlags)
		}
	}

	return &stdLogger{
		level: parseLevel(level),
		out:   out,
	}
}

func parseLevel(l string) int {
	switch strings.ToLower(l) {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (l *stdLogger) WithModule(module string) Logger {
	clone := *l
	clone.module = module
	return &clone
}

func (l *stdLogger) WithFields(fields map[string]interface{}) Logger {
	clone := *l
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	clone.fields = merged
	return &clone
}

func (l *stdLogger) prefix(level string) string {
	var b strings.Builder
	b.WriteString("[" + level + "]")
	if l.module != "" {
		b.WriteString(" [" + l.module + "]")
	}
	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%v", k, l.fields[k]))
		}
	}
	return b.String() + " "
}

func (l *stdLogger) Debugf(format string, v ...interface{}) {
	if l.level <= levelDebug {
		l.out.Printf(l.prefix("DEBUG")+format, v...)
	}
}

func (l *stdLogger) Infof(format string, v ...interface{}) {
	if l.level <= levelInfo {
		l.out.Printf(l.prefix("INFO")+format, v...)
	}
}

func (l *stdLogger) Warnf(format string, v ...interface{}) {
	if l.level <= levelWarn {
		l.out.Printf(l.prefix("WARN")+format, v...)
	}
}

func (l *stdLogger) Errorf(format string, v ...interface{}) {
	if l.level <= levelError {
		l.out.Printf(l.prefix("ERROR")+format, v...)
	}
}

func (l *stdLogger) Fatalf(format string, v ...interface{}) {
	l.out.Printf(l.prefix("FATAL")+format, v...)
	os.Exit(1)
}
