// Package router classifies an inbound proxy request: which client sent
// it, which provider/wire-format it's written in, and which upstream URL
// it should be forwarded to.
package router

import (
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/context-lens/sidecar/internal/config"
)

// reservedFirstSegments are path segments that belong to the upstream
// API surface itself, never to a client-source prefix.
var reservedFirstSegments = map[string]bool{
	"v1": true, "v1beta": true, "v1alpha": true, "v1beta1": true,
	"v1internal": true, "responses": true, "chat": true, "models": true,
	"embeddings": true, "backend-api": true, "api": true,
}

// ExtractSource splits a leading client-identifying path segment (e.g.
// "/claude-code/v1/messages" -> source "claude-code") from the rest of
// the path. If the first segment is one of the reserved API tokens, or
// fails to decode cleanly, source is "" and path is returned unchanged.
func ExtractSource(path string) (source string, cleanPath string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", path
	}

	segments := strings.SplitN(trimmed, "/", 2)
	first := segments[0]

	if reservedFirstSegments[first] {
		return "", path
	}

	decoded, err := url.PathUnescape(first)
	if err != nil || strings.ContainsAny(decoded, "/\\") || strings.Contains(decoded, "..") {
		return "", path
	}

	if len(segments) == 2 {
		return decoded, "/" + segments[1]
	}
	return decoded, "/"
}

var (
	vertexPublisherPathRe = regexp.MustCompile(`/v1[^/]*/projects/[^/]+/locations/[^/]+/publishers/google/models/`)
	vertexLocationRe      = regexp.MustCompile(`/locations/([^/]+)/`)
	geminiBetaModelsRe    = regexp.MustCompile(`/v1(beta|alpha)/models/`)
)

// ClassifyRequest maps a cleaned path and request headers to a
// (provider, apiFormat) pair, evaluated as a first-match-wins decision
// table.
func ClassifyRequest(cleanPath string, headers http.Header) (provider, apiFormat string) {
	switch {
	case strings.HasPrefix(cleanPath, "/api/") || strings.HasPrefix(cleanPath, "/backend-api/"):
		return "chatgpt", "chatgpt-backend"
	case strings.Contains(cleanPath, "/v1/messages"):
		return "anthropic", "anthropic-messages"
	case strings.Contains(cleanPath, "/v1/complete"):
		return "anthropic", "unknown"
	case headers.Get("anthropic-version") != "":
		return "anthropic", "unknown"
	case vertexPublisherPathRe.MatchString(cleanPath):
		return "vertex", "gemini"
	case strings.Contains(cleanPath, ":generateContent"),
		strings.Contains(cleanPath, ":streamGenerateContent"),
		geminiBetaModelsRe.MatchString(cleanPath),
		strings.Contains(cleanPath, "/v1internal:"):
		return "gemini", "gemini"
	case headers.Get("x-goog-api-key") != "":
		return "gemini", "gemini"
	case strings.Contains(cleanPath, "/responses"):
		return "openai", "responses"
	case strings.Contains(cleanPath, "/chat/completions"):
		return "openai", "chat-completions"
	case strings.Contains(cleanPath, "/models"), strings.Contains(cleanPath, "/embeddings"):
		return "openai", "unknown"
	case strings.HasPrefix(headers.Get("authorization"), "Bearer sk-"):
		return "openai", "unknown"
	default:
		return "unknown", "unknown"
	}
}

// ResolveTargetURL picks the upstream base URL for provider and joins it
// with parsedURL's path and query. A loopback request carrying
// x-target-url overrides the resolved target entirely.
func ResolveTargetURL(parsedURL *url.URL, headers http.Header, remoteAddr string, provider string, upstreams config.Upstreams) string {
	if override := headers.Get("x-target-url"); override != "" && isLoopback(remoteAddr) {
		return joinOverride(override, parsedURL)
	}

	base := baseForProvider(provider, parsedURL.Path, upstreams)
	return base + parsedURL.Path + suffixQuery(parsedURL)
}

func baseForProvider(provider string, path string, upstreams config.Upstreams) string {
	switch provider {
	case "openai":
		return upstreams.OpenAI
	case "anthropic":
		return upstreams.Anthropic
	case "chatgpt":
		return upstreams.ChatGPT
	case "gemini":
		return upstreams.Gemini
	case "vertex":
		if m := vertexLocationRe.FindStringSubmatch(path); m != nil && m[1] != "" && m[1] != "global" {
			return "https://" + m[1] + "-aiplatform.googleapis.com"
		}
		return upstreams.Vertex
	default:
		return upstreams.OpenAI
	}
}

func joinOverride(override string, parsedURL *url.URL) string {
	if strings.Contains(override, "://") {
		return override
	}
	return override + parsedURL.Path + suffixQuery(parsedURL)
}

func suffixQuery(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

// isLoopback reports whether remoteAddr (as found on http.Request.RemoteAddr)
// names a loopback address. x-target-url is only honored for local callers,
// since it lets the caller redirect proxied traffic anywhere.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
