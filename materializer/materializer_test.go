package materializer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_SaveLoad(t *testing.T) {
	var buf bytes.Buffer
	m := JSON()
	require.NoError(t, m.Save(&buf, map[string]any{"accuracy": 0.9, "labels": []int{1, 2}}))

	out, err := m.Load(&buf)
	require.NoError(t, err)
	got := out.(map[string]any)
	assert.Equal(t, 0.9, got["accuracy"])
	assert.Equal(t, []any{float64(1), float64(2)}, got["labels"])
}

func TestYAML_SaveLoad(t *testing.T) {
	var buf bytes.Buffer
	m := YAML()
	require.NoError(t, m.Save(&buf, map[string]any{"epochs": 3}))
	assert.Contains(t, buf.String(), "epochs: 3")

	out, err := m.Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"epochs": 3}, out)
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	m := Text()
	require.NoError(t, m.Save(&buf, []byte("raw")))
	out, err := m.Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, "raw", out)

	err = m.Save(&buf, 42)
	assert.Error(t, err)
}

func TestJSON_LoadInvalid(t *testing.T) {
	_, err := JSON().Load(strings.NewReader("{nope"))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"json", "text", "yaml"}, r.Names())

	r.Register("custom", JSON())
	m, ok := r.Get("custom")
	require.True(t, ok)
	assert.Equal(t, "json", m.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}
