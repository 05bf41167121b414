package store

import (
	"net/http"
	"strings"
)

// redactedHeaderNames lists headers stripped before a request's headers
// ever reach a CapturedEntry. Every export path (the store itself, the
// LHAR builder) reads headers back out of this already-redacted set, so
// there is exactly one place secrets can leak from.
var redactedHeaderNames = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
	"x-target-url":  true,
}

// redactHeaders flattens headers to their first value, dropping any name
// in redactedHeaderNames.
func redactHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if redactedHeaderNames[strings.ToLower(k)] || len(v) == 0 {
			continue
		}
		out[k] = v[0]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
