package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"info":    LevelInfo,
		"Warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "trace", "loud"} {
		_, err := ParseLevel(bad)
		assert.Error(t, err, bad)
	}
}

func TestLevelStringParses(t *testing.T) {
	for _, lv := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		got, err := ParseLevel(LevelString(lv))
		require.NoError(t, err)
		assert.Equal(t, lv, got)
	}
	assert.Equal(t, "debug", LevelString(LevelDebug-4))
	assert.Equal(t, "error", LevelString(LevelError+4))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	cfg := DefaultConfig()

	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
	assert.Equal(t, "activewatcher", cfg.Component)
	assert.Equal(t, "/tmp/state/activewatcher/activewatcher.log", cfg.FilePath)
}

// capture returns a JSON logger writing into a buffer and a function that
// decodes everything written so far.
func capture(t *testing.T, level Level) (*Logger, func() []map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(&Config{Level: level, Format: FormatJSON, Writer: &buf, Component: "test"})
	require.NoError(t, err)

	return l, func() []map[string]any {
		var out []map[string]any
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if line == "" {
				continue
			}
			var rec map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
			out = append(out, rec)
		}
		return out
	}
}

func TestJSONRecord(t *testing.T) {
	l, records := capture(t, LevelInfo)
	l.Info("state accepted", "bucket", "window")
	l.Debug("dropped")

	recs := records()
	require.Len(t, recs, 1)
	assert.Equal(t, "state accepted", recs[0]["msg"])
	assert.Equal(t, "window", recs[0]["bucket"])
	assert.Equal(t, "test", recs[0]["component"])
}

func TestSetLevelReachesChildren(t *testing.T) {
	l, records := capture(t, LevelInfo)
	child := l.WithComponent("api")

	child.Debug("before")
	l.SetLevel(LevelDebug)
	child.Debug("after")

	recs := records()
	require.Len(t, recs, 1)
	assert.Equal(t, "after", recs[0]["msg"])
	assert.Equal(t, "api", recs[0]["component"])
	assert.Equal(t, LevelDebug, child.GetLevel())
}

func TestRedaction(t *testing.T) {
	l, records := capture(t, LevelInfo)
	l.Info("request", "Authorization", "Bearer abc", "api_key", "xyz", "session_id", "c1", "source", "host")

	recs := records()
	require.Len(t, recs, 1)
	assert.Equal(t, "[REDACTED]", recs[0]["Authorization"])
	assert.Equal(t, "[REDACTED]", recs[0]["api_key"])
	assert.Equal(t, "c1", recs[0]["session_id"])
	assert.Equal(t, "host", recs[0]["source"])
}

func TestRequestID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.Empty(t, RequestIDFromContext(nil))

	a, b := NewRequestID(), NewRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)

	l, records := capture(t, LevelInfo)
	l.WithContext(ctx).Info("handled")
	l.WithContext(context.Background()).Info("plain")

	recs := records()
	require.Len(t, recs, 2)
	assert.Equal(t, "req-1", recs[0]["request_id"])
	assert.NotContains(t, recs[1], "request_id")
}

func TestFileOutputRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "aw.log")
	l, err := New(&Config{Level: LevelInfo, Output: "file", FilePath: path, MaxSize: 1, MaxBackups: 2})
	require.NoError(t, err)

	l.Info("first")
	require.NoError(t, l.Rotate())
	l.Info("second")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "second")
	assert.NotContains(t, string(data), "first")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2)
}

func TestFileOutputNeedsPath(t *testing.T) {
	_, err := New(&Config{Output: "both"})
	assert.Error(t, err)
}

func TestDiscardAndStderrHaveNoFile(t *testing.T) {
	d := Discard()
	d.Error("ignored")
	assert.NoError(t, d.Rotate())
	assert.NoError(t, d.Close())

	l, err := New(&Config{Output: "stderr", Level: LevelError})
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}
