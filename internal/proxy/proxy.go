// Package proxy implements the reverse-proxy HTTP handler: every inbound
// request is classified, forwarded upstream byte-for-byte, relayed back
// to the client as it arrives, and — for capturable POST requests — fed
// into the store for analysis.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/context-lens/sidecar/internal/apperror"
	"github.com/context-lens/sidecar/internal/config"
	"github.com/context-lens/sidecar/internal/normalizer"
	"github.com/context-lens/sidecar/internal/router"
	"github.com/context-lens/sidecar/internal/store"
	"github.com/context-lens/sidecar/internal/telemetry"
	"github.com/context-lens/sidecar/internal/tokenpricing"
)

// utilityEndpointMarkers identify upstream calls that carry no meaningful
// conversation content (quota checks, experiment flags, metrics pings).
// They're forwarded like any other request but never captured.
var utilityEndpointMarkers = []string{
	"/count_tokens",
	":countTokens",
	":loadCodeAssist",
	":retrieveUserQuota",
	":listExperiments",
	":onboardUser",
	":fetchAdminControls",
	":recordCodeAssistMetrics",
}

func isUtilityEndpoint(path string) bool {
	for _, marker := range utilityEndpointMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

var geminiModelInPathRe = regexp.MustCompile(`/models/([^:/]+)`)

// Handler is the reverse proxy's http.Handler. One instance serves the
// entire proxy listener; it holds no per-request state.
type Handler struct {
	cfg       config.Config
	client    *http.Client
	store     *store.Store
	estimator *tokenpricing.Estimator
	logger    telemetry.Logger
	metrics   *telemetry.Metrics
}

// Option customizes a Handler beyond its required constructor arguments.
type Option func(*Handler)

// WithHTTPClient overrides the client used to reach upstream, letting
// tests substitute a recording/replaying transport (see
// internal/proxy's go-vcr-based tests) for the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) { h.client = c }
}

// New builds a proxy Handler.
func New(cfg config.Config, st *store.Store, estimator *tokenpricing.Estimator, logger telemetry.Logger, metrics *telemetry.Metrics, opts ...Option) *Handler {
	h := &Handler{
		cfg:       cfg,
		client:    &http.Client{},
		store:     st,
		estimator: estimator,
		logger:    logger,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.passthrough(w, r)
		return
	}
	h.handlePost(w, r)
}

type resolution struct {
	source    string
	cleanPath string
	provider  string
	apiFormat string
	targetURL string
}

// resolve runs the full (source, provider, apiFormat, targetURL)
// classification for one request. Every code path needs it, including
// non-POST passthrough, since the upstream base URL depends on provider.
func (h *Handler) resolve(r *http.Request) resolution {
	source, cleanPath := router.ExtractSource(r.URL.Path)
	provider, apiFormat := router.ClassifyRequest(cleanPath, r.Header)

	routed := *r.URL
	routed.Path = cleanPath
	targetURL := router.ResolveTargetURL(&routed, r.Header, r.RemoteAddr, provider, h.cfg.Upstreams)

	return resolution{source: source, cleanPath: cleanPath, provider: provider, apiFormat: apiFormat, targetURL: targetURL}
}

// passthrough forwards a non-POST request unchanged and relays the
// response, without any capture.
func (h *Handler) passthrough(w http.ResponseWriter, r *http.Request) {
	res := h.resolve(r)

	req, err := http.NewRequestWithContext(r.Context(), r.Method, res.targetURL, r.Body)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}
	req.Header = cloneHeaders(r.Header)
	stripHopByHop(req.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		h.handlePreHeaderError(w, r, err)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug().Err(err).Str("target", res.targetURL).Msg("passthrough response copy ended early")
	}
}

// handlePost buffers the request body, then branches into the three
// POST-handling cases: non-JSON body, JSON utility-endpoint body, and
// JSON capturable body.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	limit := h.cfg.Server.MaxRequestBytes
	if limit <= 0 {
		limit = 64 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > limit {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if !json.Valid(body) {
		h.forwardRaw(w, r, body)
		return
	}

	res := h.resolve(r)
	if isUtilityEndpoint(res.cleanPath) {
		h.forwardOnly(w, r, res, body)
		return
	}
	h.forwardAndCapture(w, r, res, body)
}

// forwardRaw handles a POST body that did not parse as JSON: it is
// forwarded and relayed exactly like any other request, but the entry
// recorded for it carries only the first 2,000 bytes as a raw message,
// and the store write happens off the relay's critical path.
func (h *Handler) forwardRaw(w http.ResponseWriter, r *http.Request, body []byte) {
	res := h.resolve(r)
	start := time.Now()

	resp, captured, respHeaders, status, err := h.doUpstream(w, r, res, body)
	if err != nil {
		return
	}

	ctx := normalizer.ParseRaw(body)
	timings := computeTimings(start, time.Now(), time.Now())

	go func() {
		entry, err := h.store.StoreRequest(store.StoreRequestParams{
			ContextInfo:    ctx,
			RawBody:        body,
			Response:       store.ResponseCapture{Body: captured, ContentType: resp.Header.Get("Content-Type")},
			Source:         res.source,
			RequestHeaders: r.Header,
			Timings:        timings,
			HTTPStatus:     status,
			TargetURL:      res.targetURL,
		})
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to store raw-body capture")
			return
		}
		h.writeCapture(entry.ID, r.Header, body, respHeaders, captured)
	}()
}

// forwardOnly relays a utility-endpoint request without any capture.
func (h *Handler) forwardOnly(w http.ResponseWriter, r *http.Request, res resolution, body []byte) {
	_, _, _, _, _ = h.doUpstream(w, r, res, body)
}

// forwardAndCapture is the main path: build a ContextInfo, forward to
// the resolved upstream, relay the response while capturing it, and
// store the resulting entry.
func (h *Handler) forwardAndCapture(w http.ResponseWriter, r *http.Request, res resolution, body []byte) {
	sendStart := time.Now()

	provider := normalizer.Provider(res.provider)
	apiFormat := normalizer.APIFormat(res.apiFormat)
	model := modelFromBody(body)
	if model == "" && provider == normalizer.ProviderGemini {
		if m := geminiModelInPathRe.FindStringSubmatch(res.cleanPath); m != nil {
			model = m[1]
		}
	}

	ctx := normalizer.ParseRequest(body, provider, apiFormat, model, h.estimator)

	waitStart := time.Now()
	resp, captured, respHeaders, status, err := h.doUpstream(w, r, res, body)
	receiveEnd := time.Now()
	if err != nil {
		return
	}

	streaming := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
	timings := computeTimings(sendStart, waitStart, receiveEnd)

	entry, err := h.store.StoreRequest(store.StoreRequestParams{
		ContextInfo: ctx,
		RawBody:     body,
		Response: store.ResponseCapture{
			Body:        captured,
			ContentType: resp.Header.Get("Content-Type"),
			Streaming:   streaming,
		},
		Source:         res.source,
		RequestHeaders: r.Header,
		Timings:        timings,
		HTTPStatus:     status,
		TargetURL:      res.targetURL,
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to store captured entry")
		return
	}
	h.writeCapture(entry.ID, r.Header, body, respHeaders, captured)

	if h.metrics != nil {
		h.metrics.UpstreamDuration.WithLabelValues(res.provider, res.apiFormat).Observe(receiveEnd.Sub(waitStart).Seconds())
	}
}

// doUpstream issues the upstream request, relays the response to w while
// teeing a bounded capture, and returns the upstream response, the
// captured bytes, the redacted response headers, and the status code.
// A non-nil error means the caller should stop (the client response, if
// any, has already been handled).
func (h *Handler) doUpstream(w http.ResponseWriter, r *http.Request, res resolution, body []byte) (*http.Response, []byte, map[string]string, int, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, res.targetURL, bytes.NewReader(body))
	if err != nil {
		h.writeUpstreamError(w, err)
		return nil, nil, nil, 0, err
	}
	req.Header = cloneHeaders(r.Header)
	stripHopByHop(req.Header)
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))

	resp, err := h.client.Do(req)
	if err != nil {
		h.handlePreHeaderError(w, r, err)
		return nil, nil, nil, 0, err
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	captured, _, copyErr := teeResponse(w, resp.Body, h.cfg.Server.MaxCaptureBytes)
	if copyErr != nil {
		h.logger.Debug().Err(copyErr).Str("target", res.targetURL).Msg("response copy ended early")
	}

	return resp, captured, redactedResponseHeaders(resp.Header), resp.StatusCode, nil
}

func (h *Handler) writeCapture(entryID uint64, reqHeaders http.Header, reqBody []byte, respHeaders map[string]string, respBody []byte) {
	if err := writeRawCapture(h.cfg.Store.CapturesDir, entryID, redactedRequestHeaders(reqHeaders), reqBody, respHeaders, respBody); err != nil {
		h.logger.Warn().Err(err).Uint64("entry_id", entryID).Msg("failed to write raw capture")
	}
}

// handlePreHeaderError decides between a quiet termination (client went
// away) and a 502 with a JSON error body (genuine upstream failure),
// based on whether the failure happened before any bytes were sent.
func (h *Handler) handlePreHeaderError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(r.Context().Err(), context.Canceled) {
		return
	}
	h.writeUpstreamError(w, err)
}

func (h *Handler) writeUpstreamError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   apperror.Wrap(apperror.KindUpstream, err).Error(),
		"details": err.Error(),
	})
}

func copyResponseHeaders(dst, src http.Header) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
	stripHopByHop(dst)
}

func computeTimings(start, waitStart, end time.Time) store.Timings {
	sendMs := waitStart.Sub(start).Milliseconds()
	totalMs := end.Sub(start).Milliseconds()
	receiveMs := totalMs - sendMs
	return store.Timings{
		SendMs:    sendMs,
		WaitMs:    0,
		ReceiveMs: receiveMs,
		TotalMs:   totalMs,
	}
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
