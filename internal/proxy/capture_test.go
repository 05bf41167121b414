package proxy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/context-lens/sidecar/internal/lhar"
)

func TestWriteRawCaptureWritesEntryFile(t *testing.T) {
	dir := t.TempDir()

	err := writeRawCapture(dir, 42, map[string]string{"X-Test": "1"}, []byte(`{"req":true}`), map[string]string{"Content-Type": "application/json"}, []byte(`{"res":true}`))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "42.json"))
	require.NoError(t, err)

	var raw lhar.RawCapture
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "1", raw.RequestHeaders["X-Test"])
	assert.Equal(t, []byte(`{"req":true}`), raw.RequestBody)
	assert.Equal(t, []byte(`{"res":true}`), raw.ResponseBody)
}

func TestWriteRawCaptureDisabledWhenDirEmpty(t *testing.T) {
	err := writeRawCapture("", 1, nil, nil, nil, nil)
	assert.NoError(t, err)
}

func TestWriteRawCaptureCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "captures")

	err := writeRawCapture(dir, 7, nil, []byte("a"), nil, []byte("b"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "7.json"))
	assert.NoError(t, err)
}
