package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/forge/internal/logging"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "info", logging.FormatJSON)
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Str("branch", "main").Msg("committed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "committed", entry["message"])
	assert.Equal(t, "main", entry["branch"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "time")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "debug", logging.FormatConsole)
	require.NoError(t, err)

	logger.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_EmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "", logging.FormatJSON)
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestNew_Invalid(t *testing.T) {
	var buf bytes.Buffer
	_, err := logging.New(&buf, "loud", logging.FormatJSON)
	assert.Error(t, err)

	_, err = logging.New(&buf, "info", "xml")
	assert.Error(t, err)
}
