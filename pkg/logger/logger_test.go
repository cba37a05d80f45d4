package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	assert.True(t, New("debug").Core().Enabled(zap.DebugLevel))
	assert.False(t, New("warn").Core().Enabled(zap.InfoLevel))
	assert.True(t, New("bogus").Core().Enabled(zap.InfoLevel))
}

func TestContextLogger_EnrichesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithUserID(WithRequestID(context.Background(), "req-1"), "alice@example.com")
	cl.For(ctx).Info("promote started")
	cl.LogRequest(ctx, "GET", "/api/roles/promote", 502, 40*time.Millisecond)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "alice@example.com", fields["user_id"])
		assert.NotContains(t, fields, "trace_id")

		assert.Equal(t, zap.WarnLevel, entries[1].Level)
		assert.Equal(t, "/api/roles/promote", entries[1].ContextMap()["route"])
		assert.EqualValues(t, 40, entries[1].ContextMap()["duration_ms"])
	}
}

func TestContextLogger_NoFields(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, NewContextLogger(base).For(context.Background()))
}
