package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	l := With().Str("component", "test").Logger()
	l.Debug().Str("video", "abc").Msg("hello")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"component":"test"`)
	assert.Contains(t, out, `"video":"abc"`)
	assert.Contains(t, out, `"message":"hello"`)
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Msg("dropped")
	Error().Msg("kept")

	assert.False(t, strings.Contains(buf.String(), "dropped"))
	assert.True(t, strings.Contains(buf.String(), "kept"))
}
