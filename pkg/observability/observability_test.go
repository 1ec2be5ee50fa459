package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	p, err := Setup(context.Background(), &Config{ServiceName: "corsair-test"}, "DEBUG")
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupNilConfig(t *testing.T) {
	p, err := Setup(context.Background(), nil, "INFO")
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything"))
}
