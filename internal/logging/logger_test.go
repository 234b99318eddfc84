package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	dev, err := New(true, "debug")
	require.NoError(t, err)
	require.NotNil(t, dev)
	require.True(t, dev.Core().Enabled(zapcore.DebugLevel))
	defer dev.Sync() //nolint:errcheck // best-effort flush
	dev.Info("development logger ready")

	prod, err := New(false, "")
	require.NoError(t, err)
	require.NotNil(t, prod)
	require.False(t, prod.Core().Enabled(zapcore.DebugLevel))
	defer prod.Sync() //nolint:errcheck // best-effort flush
	prod.Info("production logger ready")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(false, "loud")
	require.Error(t, err)
	require.Contains(t, err.Error(), "loud")
}
