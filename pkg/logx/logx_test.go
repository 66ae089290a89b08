package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("queue").Info("applied %d of %d", 2, 3)

	out := buf.String()
	assert.Contains(t, out, "[queue]")
	assert.Contains(t, out, "INFO: applied 2 of 3")
	assert.True(t, strings.HasPrefix(out, "["))
	assert.Contains(t, out, "Z]")
}

func TestLevels(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(true)
	t.Cleanup(func() { SetDebug(false) })

	logger := NewLogger("lvl")
	tests := []struct {
		logFunc func(string, ...any)
		level   Level
	}{
		{logger.Debug, LevelDebug},
		{logger.Info, LevelInfo},
		{logger.Warn, LevelWarn},
		{logger.Error, LevelError},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf.Reset()
			tt.logFunc("message")
			assert.Contains(t, buf.String(), string(tt.level)+": message")
		})
	}
}

func TestDebugSuppressedWhenDisabled(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(false)

	NewLogger("quiet").Debug("hidden")
	Debug(context.Background(), "workflow", "hidden too")

	assert.Empty(t, buf.String())
}

func TestDomainFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetDebug(true, "workflow", "queue")
	t.Cleanup(func() { SetDebug(false) })

	ctx := WithComponent(context.Background(), "task-1")
	Debug(ctx, "workflow", "stage %s", "plan")
	Debug(ctx, "patch", "filtered out")
	DebugState(ctx, "queue", "transition", "applied", "entry e1")

	out := buf.String()
	assert.Contains(t, out, "[task-1] DEBUG: [workflow] stage plan")
	assert.NotContains(t, out, "filtered out")
	assert.Contains(t, out, "State transition: applied - entry e1")
}

func TestEnvConfiguration(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("DEBUG_DOMAINS", "orchestrator, queue")
	initDebugFromEnv()
	t.Cleanup(func() { SetDebug(false) })

	assert.True(t, IsDebugEnabled())
	assert.True(t, IsDebugEnabledForDomain("orchestrator"))
	assert.True(t, IsDebugEnabledForDomain("queue"))
	assert.False(t, IsDebugEnabledForDomain("patch"))
}

func TestRingBufferFilters(t *testing.T) {
	captureOutput(t)
	SetDebug(true)
	t.Cleanup(func() { SetDebug(false) })

	start := time.Now().UTC().Add(-time.Second)
	Debug(context.Background(), "ringtest", "first")

	entries := RecentEntries("ringtest", start)
	require.NotEmpty(t, entries)
	assert.Equal(t, "first", entries[len(entries)-1].Message)
	assert.Equal(t, "ringtest", entries[len(entries)-1].Domain)

	assert.Empty(t, RecentEntries("ringtest", time.Now().Add(time.Hour)))
}

func TestRingBufferBounded(t *testing.T) {
	b := &RingBuffer{maxSize: 3}
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.add(&LogEntry{Message: msg})
	}
	entries := b.Entries("", time.Time{})
	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[0].Message)
}

func TestWrapAndErrorf(t *testing.T) {
	buf := captureOutput(t)
	base := errors.New("disk full")

	err := Wrap(base, "write file")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "write file: disk full", err.Error())
	assert.Contains(t, buf.String(), "ERROR: write file: disk full")

	assert.NoError(t, Wrap(nil, "noop"))

	err = Errorf("open %s: %w", "db", base)
	assert.ErrorIs(t, err, base)
}

func TestInitializeLogFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitializeLogFile(dir, 2, false))

	NewLogger("file").Info("to disk")
	require.NoError(t, CloseLogFile())

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[file] INFO: to disk")

	assert.NoError(t, CloseLogFile())
}
