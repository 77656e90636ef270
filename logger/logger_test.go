package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONOutputCarriesService(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("pharmacy", false, &buf)

	Component("engine").Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pharmacy", line["service"])
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		SetLevel(in)
		assert.Equal(t, want, zerolog.GlobalLevel(), "level %q", in)
	}
}
