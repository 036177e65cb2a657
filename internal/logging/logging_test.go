package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_LevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, New(Config{Level: "loud"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New(Config{}).GetLevel())
	assert.Equal(t, zerolog.DebugLevel, New(Config{Level: "debug"}).GetLevel())
}

func TestNew_ConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Level: "info", Console: &buf}), "engine")

	LogExit(logger, "pos-1", "PROFIT_TARGET", 1250)
	LogAPICall(logger, "quote", 0, nil)

	out := buf.String()
	assert.Contains(t, out, "Strangle closed")
	assert.Contains(t, out, "pos-1")
	assert.Contains(t, out, "engine")
	assert.NotContains(t, out, "Kite call", "successful API calls log at debug")
}

func TestLogAPICall_FailureIsWarning(t *testing.T) {
	var buf bytes.Buffer
	LogAPICall(New(Config{Level: "warn", Console: &buf}), "orders", 0, errors.New("timeout"))
	assert.Contains(t, buf.String(), "Kite call failed")
	assert.Contains(t, buf.String(), "timeout")
}
