package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdio/stackd/internal/config"
)

func TestNewLogger_Level(t *testing.T) {
	cfg := &config.Config{Service: config.ServiceConfig{Name: "stackd", LogLevel: "warn"}}
	assert.Equal(t, zerolog.WarnLevel, NewLogger(cfg).GetLevel())

	cfg.Service.LogLevel = "bogus"
	assert.Equal(t, zerolog.InfoLevel, NewLogger(cfg).GetLevel())
}

func TestTemporalLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewTemporalLogger(zerolog.New(&buf))

	l.With("WorkflowID", "stack-3").Error("activity failed", "Attempt", 2, "Error", errors.New("boom"), "dangling")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "activity failed", entry["message"])
	assert.Equal(t, "temporal", entry["component"])
	assert.Equal(t, "stack-3", entry["WorkflowID"])
	assert.Equal(t, float64(2), entry["Attempt"])
	assert.Equal(t, "boom", entry["Error"])
	assert.Equal(t, "dangling", entry["extra"])
}
