package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("warn", &buf)

	log.Info("hidden %d", 1)
	log.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
}

func TestLogger_WithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("debug", &buf).With("tenant", "t1").With("intent", "i-1")

	log.Debug("scan %s", "done")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "t1", entry["tenant"])
	assert.Equal(t, "i-1", entry["intent"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "scan done", entry["message"])
}

func TestParseLevel_UnknownFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("verbose", &buf)

	log.Debug("nope")
	log.Info("yes")

	assert.NotContains(t, buf.String(), "nope")
	assert.Contains(t, buf.String(), "yes")
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	l := NopLogger()
	SetDefault(l)
	assert.Same(t, l, Default())

	SetDefault(nil)
	assert.Same(t, l, Default())
}
