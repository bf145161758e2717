package dbqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Warn("dbqueue handler failed", "consumer", "c1", "id", int64(7))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "dbqueue handler failed", entries[0].Message)
	fields := entries[0].ContextMap()
	require.Equal(t, "c1", fields["consumer"])
	require.Equal(t, int64(7), fields["id"])
}

func TestNewZapLoggerNil(t *testing.T) {
	require.Equal(t, NopLogger{}, NewZapLogger(nil))
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "PENDING", StatusPending.String())
	require.Equal(t, "IN_FLIGHT", StatusInFlight.String())
	require.Equal(t, "DEAD", StatusDead.String())
}
