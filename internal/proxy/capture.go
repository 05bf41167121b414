package proxy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/context-lens/sidecar/internal/lhar"
)

// writeRawCapture persists the raw request/response bodies for one entry
// id, together with the headers it is given (callers pass them through
// the secret-header filter first), so an LHAR "full" privacy export can
// recover raw bodies the in-memory store already compacted away. A missing captures directory
// (dir == "") disables capture entirely.
func writeRawCapture(dir string, entryID uint64, requestHeaders map[string]string, requestBody []byte, responseHeaders map[string]string, responseBody []byte) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	raw := lhar.RawCapture{
		RequestHeaders:  requestHeaders,
		RequestBody:     requestBody,
		ResponseHeaders: responseHeaders,
		ResponseBody:    responseBody,
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.json", entryID))
	return os.WriteFile(path, data, 0o644)
}
