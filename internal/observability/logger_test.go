package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"barragecap/internal/config"
)

// testSink is an in-memory WriteSyncer for asserting on console output.
type testSink struct {
	bytes.Buffer
}

func (*testSink) Sync() error { return nil }

func TestInitialize(t *testing.T) {
	t.Run("console format", func(t *testing.T) {
		ResetForTest()
		sink := &testSink{}

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "barragecap-test",
		}, sink)

		GetLogger().Info("capture started")

		out := sink.String()
		assert.Contains(t, out, "INFO")
		assert.Contains(t, out, "capture started")
		assert.Contains(t, out, "barragecap-test")
	})

	t.Run("json format", func(t *testing.T) {
		ResetForTest()
		sink := &testSink{}

		Initialize(config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "barragecap-test",
		}, sink)

		GetLogger().Warn("page failed", zap.String("url", "https://www.iyf.tv/play/abc-1"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(sink.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "page failed", entry["msg"])
		assert.Equal(t, "https://www.iyf.tv/play/abc-1", entry["url"])
	})

	t.Run("level filtering", func(t *testing.T) {
		ResetForTest()
		sink := &testSink{}

		Initialize(config.LoggerConfig{Level: "warn", Format: "console"}, sink)

		GetLogger().Info("too quiet to appear")
		GetLogger().Warn("loud enough")

		out := sink.String()
		assert.NotContains(t, out, "too quiet to appear")
		assert.Contains(t, out, "loud enough")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		ResetForTest()
		sink := &testSink{}

		Initialize(config.LoggerConfig{Level: "blaring", Format: "console"}, sink)

		GetLogger().Debug("hidden")
		GetLogger().Info("visible")

		out := sink.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "visible")
	})

	t.Run("file core writes json", func(t *testing.T) {
		ResetForTest()
		logFile := filepath.Join(t.TempDir(), "barragecap.log")

		Initialize(config.LoggerConfig{
			Level:   "info",
			Format:  "console",
			LogFile: logFile,
			MaxSize: 1,
		}, zapcore.AddSync(&testSink{}))

		GetLogger().Info("written to both cores")
		Sync()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &entry))
		assert.Equal(t, "written to both cores", entry["msg"])
	})
}

func TestGetLogger_BeforeInitialization(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
}

func TestInitialize_OnlyOnce(t *testing.T) {
	ResetForTest()
	first := &testSink{}
	second := &testSink{}

	Initialize(config.LoggerConfig{Level: "info", Format: "console"}, first)
	Initialize(config.LoggerConfig{Level: "info", Format: "console"}, second)

	GetLogger().Info("single home")

	assert.Contains(t, first.String(), "single home")
	assert.Empty(t, second.String())
}
