package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := New(Config{Level: "debug", Format: "json", Output: path})
	require.NotNil(t, log)
	log.Debug("hello")
	assert.NoError(t, log.Sync())
	assert.FileExists(t, path)
}

func TestFromContextFallsBackToNop(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	log := zap.NewExample()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
}
