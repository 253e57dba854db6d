// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// =====================================================
// Encoding
// =====================================================

func TestNew_WritesJSONWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.Info("queue drained", map[string]interface{}{"synced": 2, "total": 3})
	require.NoError(t, l.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))

	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "queue drained", entry["message"])
	assert.NotEmpty(t, entry["timestamp"])

	ctx, ok := entry["context"].(map[string]interface{})
	require.True(t, ok, "context should be a nested object")
	assert.Equal(t, float64(2), ctx["synced"])
	assert.Equal(t, float64(3), ctx["total"])
}

func TestNew_RespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "shown")
}

func TestErrorWithCode_IncludesCodeAndError(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.ErrorWithCode("drain aborted", "STORE_UNAVAILABLE", errors.New("disk gone"), nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "STORE_UNAVAILABLE", entry["code"])
	assert.Equal(t, "disk gone", entry["error"])
}

// =====================================================
// Global logger
// =====================================================

func TestReplace_RoutesPackageFunctions(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(FromZap(zap.New(core)))
	defer restore()

	Debug("debug line")
	Info("info line", map[string]interface{}{"id": "A"}, map[string]interface{}{"attempt": 1})
	Warn("warn line")
	Error("error line", errors.New("boom"))

	require.Equal(t, 4, logs.Len())

	infos := logs.FilterMessage("info line").All()
	require.Len(t, infos, 1)
	ctx, ok := infos[0].ContextMap()["context"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "A", ctx["id"])
	assert.EqualValues(t, 1, ctx["attempt"])

	assert.Equal(t, zapcore.ErrorLevel, logs.FilterMessage("error line").All()[0].Level)
}

func TestGet_NeverNil(t *testing.T) {
	assert.NotNil(t, Get())
}

func TestNamed_KeepsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelError).Named("queue")

	l.Info("dropped")
	l.Error("kept", nil)

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"logger":"queue"`)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}
