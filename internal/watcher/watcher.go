// Package watcher replays raw capture files dropped on disk into the
// store, for capture sources (an external mitmproxy-style process, a
// batch backfill) that write files instead of calling the ingest API.
package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/context-lens/sidecar/internal/lhar"
	"github.com/context-lens/sidecar/internal/normalizer"
	"github.com/context-lens/sidecar/internal/store"
	"github.com/context-lens/sidecar/internal/telemetry"
	"github.com/context-lens/sidecar/internal/tokenpricing"
)

// Watcher replays every ".json" raw-capture file created in a drop
// directory into the store, using the same normalize-and-store path the
// ingest API uses.
type Watcher struct {
	dir       string
	fsw       *fsnotify.Watcher
	store     *store.Store
	estimator *tokenpricing.Estimator
	logger    telemetry.Logger
}

// New creates the underlying filesystem watch and, if dir is non-empty,
// starts watching it. An empty dir disables the watcher entirely — Run
// then replays nothing and just waits for its context to be canceled.
func New(dir string, st *store.Store, estimator *tokenpricing.Estimator, logger telemetry.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fsw.Close()
			return nil, err
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	return &Watcher{dir: dir, fsw: fsw, store: st, estimator: estimator, logger: logger}, nil
}

// Run blocks, replaying capture files as they're created or overwritten,
// until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	if w.dir == "" {
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isCaptureFile(event.Name) {
				continue
			}
			if err := w.replay(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("file", event.Name).Msg("failed to replay capture file")
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func isCaptureFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}

func modelFromBody(body []byte) string {
	var doc struct {
		Model string `json:"model"`
	}
	if json.Unmarshal(body, &doc) != nil {
		return ""
	}
	return doc.Model
}

// replay reads one raw capture file and feeds it through the same
// normalize-and-store path the ingest API uses for a request body it
// receives directly.
func (w *Watcher) replay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var raw lhar.RawCapture
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	// A dropped capture file carries no provider/apiFormat metadata (only
	// the raw bytes the proxy saw), so it's parsed as a raw message; the
	// model name is still worth recovering for display, since nearly
	// every wire format includes a top-level "model" field.
	ctx := normalizer.ParseRequest(raw.RequestBody, normalizer.ProviderUnknown, normalizer.FormatUnknown, modelFromBody(raw.RequestBody), w.estimator)
	_, err = w.store.StoreRequest(store.StoreRequestParams{
		ContextInfo: ctx,
		RawBody:     raw.RequestBody,
		Response:    store.ResponseCapture{Body: raw.ResponseBody},
		Source:      "watcher",
	})
	return err
}
