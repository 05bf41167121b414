package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped from both the inbound request and the
// upstream response before relaying, per RFC 7230 §6.1, plus the
// proxy-internal headers that must never reach an upstream.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"X-Target-Url",
	"Host",
}

func cloneHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func stripHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// redactedSecretHeaders never make it into a capture file, even the "full"
// privacy one — these carry live credentials, not conversation content.
var redactedSecretHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"x-goog-api-key": true,
	"cookie":        true,
	"set-cookie":    true,
}

func redactedRequestHeaders(h http.Header) map[string]string {
	return flattenHeaders(h)
}

func redactedResponseHeaders(h http.Header) map[string]string {
	return flattenHeaders(h)
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if redactedSecretHeaders[strings.ToLower(k)] || len(v) == 0 {
			continue
		}
		out[k] = v[0]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
