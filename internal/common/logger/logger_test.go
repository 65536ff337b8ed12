package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestNewStructured_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	log, err := NewStructured("info", "json", path)
	require.NoError(t, err)

	ForComponent(log, "store").WithError(errors.New("boom")).Info("created", map[string]interface{}{
		"notificationId": "n-1",
	})
	log.Debug("hidden", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"store"`)
	assert.Contains(t, string(data), `"notificationId":"n-1"`)
	assert.Contains(t, string(data), `"error":"boom"`)
	assert.NotContains(t, string(data), "hidden")
}
