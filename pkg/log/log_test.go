package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithInstance(WithComponent("deploy"), "mc-lobby")
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "deploy", entry["component"])
	assert.Equal(t, "mc-lobby", entry["instance"])
	assert.Equal(t, "hello", entry["message"])
}

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})
	defer Init(Config{Level: InfoLevel, JSONOutput: true, Output: &bytes.Buffer{}})

	api := WithComponent("api")
	api.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	api = WithComponent("api")
	api.Error().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}
