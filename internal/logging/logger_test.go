package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil config uses defaults", nil, false},
		{"json format", &Config{Level: "debug", Format: "json"}, false},
		{"console format", &Config{Level: "warn", Format: "console"}, false},
		{"bad level", &Config{Level: "loud", Format: "json"}, true},
		{"bad format", &Config{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestLogger_LevelEnabled(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "warn", Format: "json"})
	require.NoError(t, err)

	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Enabled(zapcore.ErrorLevel))
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRunID(ctx, "git-push-1700000000-abcd1234")
	ctx = WithStage(ctx, "lint")
	ctx = WithRequestID(ctx, "req-42")

	fields := ContextFields(ctx)
	require.Len(t, fields, 3)
	assert.Equal(t, "git-push-1700000000-abcd1234", RunIDFromContext(ctx))
	assert.Equal(t, "lint", StageFromContext(ctx))
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
}

func TestLogger_ChildLoggers(t *testing.T) {
	logger := NewNop()
	child := logger.Named("scheduler").With()
	require.NotNil(t, child)

	// Logging with a populated context must not panic.
	ctx := WithRunID(context.Background(), "run-1")
	child.Info(ctx, "admitted")
	child.Debug(ctx, "detail")
}
