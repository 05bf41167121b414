package lhar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RawCapture is the full request/response pair the proxy writes to the
// captures directory for one entry id, used only by PrivacyFull exports.
type RawCapture struct {
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	RequestBody     []byte            `json:"requestBody,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte            `json:"responseBody,omitempty"`
}

// RawCaptureReader looks up the raw capture for an entry id. Implemented
// by FileCaptureStore; callers that never export at PrivacyFull can pass
// nil.
type RawCaptureReader interface {
	ReadCapture(entryID uint64) (RawCapture, bool)
}

// FileCaptureStore reads raw captures from the on-disk directory the
// reverse proxy writes one <id>.json file to per captured request.
type FileCaptureStore struct {
	Dir string
}

// ReadCapture implements RawCaptureReader.
func (f FileCaptureStore) ReadCapture(entryID uint64) (RawCapture, bool) {
	if f.Dir == "" {
		return RawCapture{}, false
	}
	path := filepath.Join(f.Dir, fmt.Sprintf("%d.json", entryID))
	data, err := os.ReadFile(path)
	if err != nil {
		return RawCapture{}, false
	}
	var rc RawCapture
	if err := json.Unmarshal(data, &rc); err != nil {
		return RawCapture{}, false
	}
	return rc, true
}
