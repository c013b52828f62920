package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Debug("hidden")
	Info("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "key=value")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "json")

	Warn("something odd", "count", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "something odd", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, float64(3), entry["count"])
}

func TestSetLevelReconfigures(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "ERROR", "text")

	Info("dropped")
	SetLevel("DEBUG")
	Debug("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
