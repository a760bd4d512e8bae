package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, ParseLevel("trace"))
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestHandlerSplitsErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	logger := slog.New(NewHandler(LevelTrace, &out, &errOut)).With("component", "stream")

	logger.Log(t.Context(), LevelTrace, "completion", "frame", 12)
	logger.Info("started")
	logger.Error("pipe stalled")

	assert.Contains(t, out.String(), "level=TRACE")
	assert.Contains(t, out.String(), "msg=started")
	assert.Contains(t, out.String(), "component=stream")
	assert.NotContains(t, out.String(), "pipe stalled")
	assert.Contains(t, errOut.String(), "pipe stalled")
	assert.NotContains(t, errOut.String(), "started")
}

func TestHandlerLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	logger := slog.New(NewHandler(slog.LevelWarn, &out, &errOut))
	logger.Debug("quiet")
	logger.Warn("loud")
	assert.NotContains(t, out.String(), "quiet")
	assert.Contains(t, out.String(), "loud")
}

func TestSetupLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uacd.log")
	logger, closers, err := SetupLogger("debug", path)
	require.NoError(t, err)
	require.Len(t, closers, 1)

	logger.Debug("engine built", "engines", 2)
	for _, c := range closers {
		require.NoError(t, c.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "engines=2")
}
