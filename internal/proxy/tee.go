package proxy

import (
	"bytes"
	"io"
	"net/http"
)

// teeBufferSize matches the chunk size the upstream connection is read in
// at a time before being written through to the client and flushed.
const teeBufferSize = 32 * 1024

// teeResponse copies src to dst chunk by chunk, flushing dst after every
// write so a streaming client sees bytes as they arrive. In parallel it
// retains up to maxCaptureBytes of what was written, for later analysis;
// bytes beyond that bound are still relayed to dst, just not retained.
func teeResponse(dst http.ResponseWriter, src io.Reader, maxCaptureBytes int64) (captured []byte, total int64, err error) {
	// In Node.js, res.write() flushes automatically — there's no
	// buffering layer you have to poke. Go's http.ResponseWriter
	// doesn't guarantee that, so we type-assert for the optional
	// Flusher interface and call it ourselves after every chunk; the
	// comma-ok form means a ResponseWriter that doesn't implement it
	// (rare, but httptest.ResponseRecorder callers sometimes wrap one)
	// just gets flusher == nil instead of a panic.
	flusher, _ := dst.(http.Flusher)

	var buf bytes.Buffer
	chunk := make([]byte, teeBufferSize)
	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			if _, writeErr := dst.Write(chunk[:n]); writeErr != nil {
				return buf.Bytes(), total, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
			total += int64(n)
			if maxCaptureBytes <= 0 {
				buf.Write(chunk[:n])
			} else if remaining := maxCaptureBytes - int64(buf.Len()); remaining > 0 {
				if remaining > int64(n) {
					remaining = int64(n)
				}
				buf.Write(chunk[:remaining])
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return buf.Bytes(), total, nil
			}
			return buf.Bytes(), total, readErr
		}
	}
}
