package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/context-lens/sidecar/internal/config"
	"github.com/context-lens/sidecar/internal/lhar"
	"github.com/context-lens/sidecar/internal/store"
	"github.com/context-lens/sidecar/internal/telemetry"
	"github.com/context-lens/sidecar/internal/tokenpricing"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	cfg := config.StoreConfig{
		StateFilePath:   dir + "/state.jsonl",
		TagsFilePath:    dir + "/tags.jsonl",
		MaxSessions:     50,
		MaxMessagesKept: 60,
	}
	est := tokenpricing.NewEstimator("")
	logger := telemetry.NewLogger(false, "error")
	st, err := store.New(cfg, est, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func writeCaptureFile(t *testing.T, dir, name string, raw lhar.RawCapture) string {
	t.Helper()
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestIsCaptureFileMatchesJSONCaseInsensitively(t *testing.T) {
	assert.True(t, isCaptureFile("42.json"))
	assert.True(t, isCaptureFile("42.JSON"))
	assert.False(t, isCaptureFile("42.txt"))
	assert.False(t, isCaptureFile("42"))
}

func TestReplayStoresEntryFromCaptureFile(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	w, err := New(dir, st, tokenpricing.NewEstimator(""), telemetry.NewLogger(false, "error"))
	require.NoError(t, err)

	path := writeCaptureFile(t, dir, "1.json", lhar.RawCapture{
		RequestBody:  []byte(`{"model":"claude-sonnet-4-20250514","messages":[{"role":"user","content":"hi"}]}`),
		ResponseBody: []byte(`{"model":"claude-sonnet-4-20250514","usage":{"input_tokens":3,"output_tokens":2}}`),
	})

	require.NoError(t, w.replay(path))

	entries := st.GetCapturedRequests()
	require.Len(t, entries, 1)
	assert.Equal(t, "watcher", entries[0].Source)
	assert.Equal(t, "claude-sonnet-4-20250514", entries[0].Model)
}

func TestReplayReturnsErrorForMissingFile(t *testing.T) {
	st := newTestStore(t)
	w, err := New(t.TempDir(), st, tokenpricing.NewEstimator(""), telemetry.NewLogger(false, "error"))
	require.NoError(t, err)

	err = w.replay(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRunReplaysFilesCreatedWhileWatching(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	w, err := New(dir, st, tokenpricing.NewEstimator(""), telemetry.NewLogger(false, "error"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeCaptureFile(t, dir, "2.json", lhar.RawCapture{
		RequestBody:  []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"watch me"}]}`),
		ResponseBody: []byte(`{}`),
	})

	require.Eventually(t, func() bool {
		return len(st.GetCapturedRequests()) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRunWithEmptyDirReturnsOnContextCancel(t *testing.T) {
	st := newTestStore(t)
	w, err := New("", st, tokenpricing.NewEstimator(""), telemetry.NewLogger(false, "error"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
