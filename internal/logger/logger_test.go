package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xiaot623/gogo/linkbox/internal/config"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	log, err := NewLogger(config.LoggingConfig{Level: "chatty", Format: "json", OutputPath: "stderr"})
	assert.NoError(t, err)
	assert.True(t, log.Zap().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Zap().Core().Enabled(zapcore.DebugLevel))
}

func TestWithFieldsCarriesContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := New(zap.New(core)).WithComponent("decoder").WithTaskID("t1").WithError(errors.New("boom"))

	log.Warn("dropped frame")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "decoder", ctx["component"])
		assert.Equal(t, "t1", ctx["task_id"])
		assert.Equal(t, "boom", ctx["error"])
	}
}
