package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsUnknownFormat(t *testing.T) {
	err := Init(WithFormat("xml"))
	require.Error(t, err)
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(WithLevel("loud"))
	require.Error(t, err)
}

func TestFileLoggingAndLevelSwap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "publisher.log")
	require.NoError(t, Init(
		WithLevel("info"),
		WithFormat("json"),
		WithFile(path),
		WithComponent("test"),
	))

	Debug("hidden")
	Info("visible", Relay("wss://a"))
	require.NoError(t, UpdateLevel("debug"))
	Debug("now visible")
	require.NoError(t, Shutdown())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"relay":"wss://a"`)
	assert.Contains(t, string(data), "now visible")
}

func TestNewIsNopBeforeInit(t *testing.T) {
	mu.Lock()
	active = false
	mu.Unlock()

	l := New("x")
	require.NotNil(t, l)
	l.Info("dropped")
	assert.Error(t, UpdateLevel("debug"))
}
