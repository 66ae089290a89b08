// Package logx provides leveled, component-tagged logging with domain-filtered debug output.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// Logger writes lines tagged with a component id (e.g. "orchestrator", "queue").
type Logger struct {
	component string
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Domains map[string]bool // nil enables every domain
	Enabled bool
}

// LogEntry is one captured log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

// RingBuffer keeps the most recent log entries in memory.
type RingBuffer struct {
	entries []LogEntry
	mu      sync.RWMutex
	maxSize int
}

type ctxKey string

// ComponentKey is the context key read by Debug to tag lines with a component id.
const ComponentKey ctxKey = "component"

//nolint:gochecknoglobals // process-wide logging state
var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	// logWriter overrides the destination for all loggers when non-nil.
	logWriter     io.Writer
	logWriterLock sync.RWMutex

	recent = &RingBuffer{maxSize: 1000}
)

func init() { //nolint:gochecknoinits // env-driven debug configuration
	initDebugFromEnv()
}

// initDebugFromEnv reads DEBUG and DEBUG_DOMAINS.
func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debug := os.Getenv("DEBUG")
	debugConfig.Enabled = debug == "1" || strings.EqualFold(debug, "true")

	debugConfig.Domains = nil
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = parseDomains(strings.Split(domains, ","))
	}
}

func parseDomains(domains []string) map[string]bool {
	if len(domains) == 0 {
		return nil
	}
	out := make(map[string]bool, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			out[d] = true
		}
	}
	return out
}

// NewLogger creates a logger for the given component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// SetDebug enables or disables debug output, optionally restricted to domains.
func SetDebug(enabled bool, domains ...string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
	debugConfig.Domains = parseDomains(domains)
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

// SetOutput redirects all log output. Passing nil restores stderr (or the log file).
func SetOutput(w io.Writer) {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	logWriter = w
}

func output() io.Writer {
	logWriterLock.RLock()
	w := logWriter
	logWriterLock.RUnlock()
	if w != nil {
		return w
	}
	if fw := fileWriter(); fw != nil {
		return fw
	}
	return os.Stderr
}

func (b *RingBuffer) add(entry *LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, *entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// Entries returns a copy of buffered entries filtered by domain and time.
func (b *RingBuffer) Entries(domain string, since time.Time) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	filtered := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		entry := &b.entries[i]
		if domain != "" && !strings.EqualFold(entry.Domain, domain) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(timestampFormat, entry.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		filtered = append(filtered, *entry)
	}
	return filtered
}

// RecentEntries returns buffered log entries.
func RecentEntries(domain string, since time.Time) []LogEntry {
	return recent.Entries(domain, since)
}

func write(component string, level Level, domain, message string) {
	timestamp := time.Now().UTC().Format(timestampFormat)
	line := message
	if domain != "" {
		line = fmt.Sprintf("[%s] %s", domain, message)
	}
	fmt.Fprintf(output(), "[%s] [%s] %s: %s\n", timestamp, component, level, line)

	recent.add(&LogEntry{
		Timestamp: timestamp,
		Component: component,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
	})
}

func (l *Logger) log(level Level, format string, args ...any) {
	write(l.component, level, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Component returns the logger's component id.
func (l *Logger) Component() string {
	return l.component
}

// With returns a logger for a sub-component, e.g. "orchestrator/3f2a".
func (l *Logger) With(sub string) *Logger {
	return &Logger{component: l.component + "/" + sub}
}

// Debug logs a domain-filtered debug line. The component comes from ctx when set.
//
//	DEBUG=1                            # every domain
//	DEBUG=1 DEBUG_DOMAINS=workflow     # one domain
//	DEBUG=1 DEBUG_DOMAINS=queue,patch  # several
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := "unknown"
	if ctx != nil {
		if id, ok := ctx.Value(ComponentKey).(string); ok && id != "" {
			component = id
		}
	}
	write(component, LevelDebug, domain, fmt.Sprintf(format, args...))
}

// DebugState logs a state transition.
func DebugState(ctx context.Context, domain, action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "State %s: %s%s", action, state, extraInfo)
}

// DebugFlow logs a workflow step.
func DebugFlow(ctx context.Context, domain, step, status string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "Flow %s: %s%s", step, status, extraInfo)
}

// WithComponent tags ctx so Debug lines carry the component id.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ComponentKey, component)
}

//nolint:gochecknoglobals // package-level convenience logger
var defaultLogger = NewLogger("system")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
//
//	err := logx.Errorf("open store: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
