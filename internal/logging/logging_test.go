package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "api-server", "prod", "info")

	log.Info().Str("order_id", "abc").Msg("order placed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "api-server", line["service"])
	assert.Equal(t, "abc", line["order_id"])
	assert.Equal(t, "order placed", line["message"])
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "worker", "prod", "warn")

	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	log := newLogger(&bytes.Buffer{}, "worker", "prod", "loud")
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewLogger_DevIsNotJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "api-server", "dev", "debug")

	log.Debug().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(buf.Bytes()))
}
