package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"

func TestRedact(t *testing.T) {
	assert.Equal(t, "POST https://api.telegram.org/bot<redacted>/sendMessage",
		Redact("POST https://api.telegram.org/bot"+token+"/sendMessage"))
	assert.Equal(t, "chat -1001234567890", Redact("chat -1001234567890"))
}

func TestWriterMasksTokens(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Warn("send failed", Err(errors.New("Post \"https://api.telegram.org/bot"+token+"/sendMessage\": timeout")), Int("attempt", 2))

	assert.NotContains(t, buf.String(), token)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "test", line["comp"])
	assert.Equal(t, float64(2), line["attempt"])
	assert.Contains(t, line["err"], "bot<redacted>/sendMessage")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	assert.Zero(t, buf.Len())
	log.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log = log.With(String("comp", "relay"))

	log.Debug("dropped")
	log.Info("token " + token)
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("kept")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.NotContains(t, out, "dropped")
	assert.NotContains(t, out, token)
	assert.Contains(t, out, "token <redacted>")
	assert.Contains(t, out, "kept")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Info("nothing happens")
	assert.False(t, Nop().IsZero())
}
