package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerAddsContextFields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core))

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "usr_1")
	logger.Info(ctx, "project created", zap.String("project.id", "prj_1"))

	entries := observed.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request.id"])
	assert.Equal(t, "usr_1", fields["user.id"])
	assert.Equal(t, "prj_1", fields["project.id"])
}

func TestLoggerWithoutContextValues(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := NewFromZap(zap.New(core)).Named("store")

	logger.Warn(context.Background(), "slow query")
	logger.Debug(context.Background(), "dropped below level")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "store", entries[0].LoggerName)
	assert.Empty(t, entries[0].Context)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", "json")
	require.Error(t, err)

	logger, err := New("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, logger.Underlying())
}
