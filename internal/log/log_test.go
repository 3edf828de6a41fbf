package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure(&buf, "json")
	SetLevel(LevelInfo)
	t.Cleanup(func() {
		Configure(os.Stderr, "console")
		SetLevel(LevelInfo)
	})
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestKeyValuePairs(t *testing.T) {
	buf := capture(t)

	Info("source fetched", "source_id", "a", "events", 3, "dangling")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, "source fetched", got[0]["message"])
	assert.Equal(t, "a", got[0]["source_id"])
	assert.Equal(t, float64(3), got[0]["events"])
	assert.NotContains(t, got[0], "dangling")
}

func TestErrorIncludesCause(t *testing.T) {
	buf := capture(t)

	Error("fetch failed", errors.New("connection refused"), "source_id", "b")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0]["level"])
	assert.Equal(t, "connection refused", got[0]["error"])
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)

	Debug("hidden")
	SetLevel(LevelDebug)
	Debug("shown")
	SetLevel(LevelError)
	Warn("hidden too")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "shown", got[0]["message"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
