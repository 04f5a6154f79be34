package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestAdjustableLevel(t *testing.T) {
	var buf bytes.Buffer
	log, level, err := NewAdjustable(&buf, "warn", "json")
	require.NoError(t, err)

	log.Info("hidden")
	assert.Empty(t, buf.String())

	level.SetLevel(zapcore.InfoLevel)
	log.Info("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestUnknownFormat(t *testing.T) {
	_, err := NewLoggerTo(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
