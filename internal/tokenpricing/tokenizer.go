package tokenpricing

import (
	"path/filepath"
	"sync"

	"github.com/daulet/tokenizers"
)

// bpeTokenizer wraps the daulet/tokenizers cgo binding for one encoding
// family. Loaded lazily and cached for the lifetime of the process.
type bpeTokenizer struct {
	tok *tokenizers.Tokenizer
}

func (b *bpeTokenizer) count(s string) (int, bool) {
	if b == nil || b.tok == nil {
		return 0, false
	}
	ids, _ := b.tok.Encode(s, false)
	return len(ids), true
}

// tokenizerCache loads a bpeTokenizer per EncodingFamily from a vocab
// directory on first use. When vocabDir is empty, or the expected file
// for a family doesn't exist, get() returns nil and callers fall back to
// the ceil(len/4) heuristic.
type tokenizerCache struct {
	vocabDir string

	mu    sync.Mutex
	once  map[EncodingFamily]*sync.Once
	cache map[EncodingFamily]*bpeTokenizer
}

func newTokenizerCache(vocabDir string) *tokenizerCache {
	return &tokenizerCache{
		vocabDir: vocabDir,
		once:     make(map[EncodingFamily]*sync.Once),
		cache:    make(map[EncodingFamily]*bpeTokenizer),
	}
}

func (c *tokenizerCache) get(family EncodingFamily) *bpeTokenizer {
	if c == nil || c.vocabDir == "" {
		return nil
	}

	c.mu.Lock()
	once, ok := c.once[family]
	if !ok {
		once = &sync.Once{}
		c.once[family] = once
	}
	c.mu.Unlock()

	once.Do(func() {
		path := filepath.Join(c.vocabDir, string(family)+".json")
		tok, err := tokenizers.FromFile(path)
		if err != nil {
			return
		}
		c.mu.Lock()
		c.cache[family] = &bpeTokenizer{tok: tok}
		c.mu.Unlock()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache[family]
}
