package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", JSON: true, Output: &buf})

	l.WithSessionID("kitchen").WithModel("gemini-1.5-flash").LogError(errors.New("boom"), "provider failed", "attempt", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "provider failed", entry["msg"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "kitchen", entry["session_id"])
	assert.Equal(t, "gemini-1.5-flash", entry["model"])
	assert.EqualValues(t, 2, entry["attempt"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestEmptyFieldsReturnSameLogger(t *testing.T) {
	l := Nop()
	assert.Same(t, l, l.WithSessionID(""))
	assert.Same(t, l, l.WithRequestID(""))
}

func TestContextRoundTrip(t *testing.T) {
	fallback := Nop()
	l := Nop().WithComponent("chat")

	assert.Same(t, fallback, FromContext(context.Background(), fallback))
	assert.Same(t, l, FromContext(IntoContext(context.Background(), l), fallback))
}
