package proxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHopByHopRemovesConnectionListedHeadersAndFixedSet(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom-One, X-Custom-Two")
	h.Set("X-Custom-One", "a")
	h.Set("X-Custom-Two", "b")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("X-Target-Url", "http://internal")
	h.Set("Content-Type", "application/json")

	stripHopByHop(h)

	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("X-Custom-One"))
	assert.Empty(t, h.Get("X-Custom-Two"))
	assert.Empty(t, h.Get("Keep-Alive"))
	assert.Empty(t, h.Get("X-Target-Url"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestCloneHeadersIsIndependentOfSource(t *testing.T) {
	h := http.Header{}
	h.Set("A", "1")

	clone := cloneHeaders(h)
	clone.Set("A", "2")

	assert.Equal(t, "1", h.Get("A"))
	assert.Equal(t, "2", clone.Get("A"))
}

func TestFlattenHeadersRedactsSecretsCaseInsensitively(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("X-API-Key", "key123")
	h.Set("X-Goog-Api-Key", "key456")
	h.Set("Cookie", "session=1")
	h.Set("Content-Type", "application/json")

	out := flattenHeaders(h)

	assert.NotContains(t, out, "Authorization")
	assert.NotContains(t, out, "X-Api-Key")
	assert.NotContains(t, out, "X-Goog-Api-Key")
	assert.NotContains(t, out, "Cookie")
	assert.Equal(t, "application/json", out["Content-Type"])
}

func TestFlattenHeadersEmptyReturnsNil(t *testing.T) {
	assert.Nil(t, flattenHeaders(http.Header{}))
}
