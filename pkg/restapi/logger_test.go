package restapi_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

func TestZerologLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	var logger restapi.Logger = restapi.NewZerologLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	logger.Debug("hidden", nil)
	logger.Warn("cache write failed", map[string]interface{}{"uri": "/items", "status": 200})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &record))
	assert.Equal(t, "warn", record["level"])
	assert.Equal(t, "cache write failed", record["message"])
	assert.Equal(t, "/items", record["uri"])
	assert.InDelta(t, 200, record["status"], 0)
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	var logger restapi.Logger = restapi.NopLogger{}

	assert.NotPanics(t, func() {
		logger.Debug("x", nil)
		logger.Info("x", nil)
		logger.Warn("x", nil)
		logger.Error("x", map[string]interface{}{"k": "v"})
	})
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, restapi.MediaType("application/vnd.github.squirrel-girl-preview+json"), restapi.Preview("squirrel-girl"))
	assert.Equal(t, "application/json", restapi.MediaType("").String())
	assert.Equal(t, "application/vnd.custom+json", restapi.MediaType("application/vnd.custom+json").String())
}
