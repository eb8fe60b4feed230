package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *zeroLogger {
	return &zeroLogger{logger: zerolog.New(buf)}
}

func TestEmitIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.WithIncident("inc-1").Info("diagnosing incident",
		Float64("confidence", 0.9),
		Int("attempt", 1),
		Bool("auto", true),
		Duration("elapsed", 2*time.Second),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "inc-1", entry["incident_id"])
	assert.Equal(t, 0.9, entry["confidence"])
	assert.Equal(t, float64(1), entry["attempt"])
	assert.Equal(t, true, entry["auto"])
	assert.Equal(t, "diagnosing incident", entry["message"])
}

func TestWithErrorNilIsNoop(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.WithError(nil).Info("ok")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasErr := entry["error"]
	assert.False(t, hasErr)
}

func TestWithErrorAttachesError(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.WithError(errors.New("apply failed")).Error("remediation failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "apply failed", entry["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}
