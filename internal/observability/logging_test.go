package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{name: "json info", cfg: LogConfig{Level: "info", Format: "json"}},
		{name: "console debug", cfg: LogConfig{Level: "debug", Format: "console"}},
		{name: "stderr output", cfg: LogConfig{Level: "warn", Format: "json", Output: "stderr"}},
		{name: "invalid level", cfg: LogConfig{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)

			logger.Info("test message", String("key", "value"))
			withFields := logger.With(Int("n", 1))
			require.NotNil(t, withFields)
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NopLogger()
	logger.Debug("ignored")
	logger.Info("ignored", String("k", "v"))
	assert.NoError(t, logger.Sync())
	assert.NotNil(t, logger.With(String("k", "v")))
	assert.NotNil(t, logger.WithContext(context.Background()))
}

func TestDefaultLogConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}
