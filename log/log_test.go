package log

import (
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
	"testing"
)

func TestInitLogger(t *testing.T) {
	old := Logger
	defer func() { Logger = old }()

	assert.NoError(t, InitLogger("debug"))
	assert.True(t, Logger.Core().Enabled(zapcore.DebugLevel), "debug should be enabled")

	assert.NoError(t, InitLogger("error"))
	assert.False(t, Logger.Core().Enabled(zapcore.InfoLevel), "info should be disabled at error level")
}

func TestInitLoggerBadLevel(t *testing.T) {
	old := Logger
	defer func() { Logger = old }()

	assert.Error(t, InitLogger("loud"))
	assert.Equal(t, old, Logger)
}
