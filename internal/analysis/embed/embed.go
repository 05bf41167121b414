// Package embed implements an optional, local-model-backed alternative
// to the regex role-confusion heuristic in internal/analysis: it embeds
// message text and a small corpus of known jailbreak/role-confusion
// phrases, then flags a message whose embedding is cosine-close to one
// of them. Regex catches phrasing it has seen before; this catches
// paraphrases of it.
//
// Enabled reports whether CONTEXT_LENS_SEMANTIC_SCAN is set to turn the
// scan on (it is off by default). The ONNX model file path is the
// modelPath argument of NewOnnxEmbedder; no environment variable sets it.
// Nothing outside this package calls Enabled or builds a Scanner, so the
// daemon's security scan is the regex scan only.
package embed

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// Embedder turns text into a fixed-size embedding vector. OnnxEmbedder
// is the production implementation; tests supply a fake so the suite
// doesn't need a real ONNX model on disk.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Enabled reports whether the semantic scan should run. Unset or "0"
// means off, matching the "disabled by default" requirement — the scan
// needs a model file most deployments won't have.
func Enabled() bool {
	v := os.Getenv("CONTEXT_LENS_SEMANTIC_SCAN")
	return v == "1" || strings.EqualFold(v, "true")
}

// embeddingDim is the output width of the expected sentence-embedding
// model (all-MiniLM-L6-v2 and similar small models use 384).
const embeddingDim = 384

// OnnxEmbedder runs a local sentence-embedding model through
// onnxruntime_go. It owns the runtime session and its tensors for its
// whole lifetime; callers must Close it.
type OnnxEmbedder struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[int64]
	output    *ort.Tensor[float32]
	maxTokens int
}

// NewOnnxEmbedder loads the model at modelPath and allocates the
// fixed-shape input/output tensors the session reuses on every call.
func NewOnnxEmbedder(modelPath string, maxTokens int) (*OnnxEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("embed: no model path configured")
	}
	if maxTokens <= 0 {
		maxTokens = 64
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("embed: initialize onnxruntime: %w", err)
	}

	inputShape := ort.NewShape(1, int64(maxTokens))
	input, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("embed: allocate input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(embeddingDim))
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("embed: allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input_ids"}, []string{"embedding"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, nil)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("embed: create session: %w", err)
	}

	return &OnnxEmbedder{session: session, input: input, output: output, maxTokens: maxTokens}, nil
}

// Close releases the session and its tensors.
func (e *OnnxEmbedder) Close() error {
	if e == nil {
		return nil
	}
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		_ = e.input.Destroy()
	}
	if e.output != nil {
		_ = e.output.Destroy()
	}
	return nil
}

// Embed runs one forward pass and returns a copy of the output vector
// (the session reuses its output tensor's backing array on every call,
// so the caller needs its own copy to hold onto the result).
func (e *OnnxEmbedder) Embed(text string) ([]float32, error) {
	hashTokens(text, e.input.GetData())

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("embed: run session: %w", err)
	}

	out := e.output.GetData()
	vec := make([]float32, len(out))
	copy(vec, out)
	return vec, nil
}

// hashTokens stands in for a real subword tokenizer: split on
// whitespace, hash each token into the model's vocab range, and
// pad/truncate to len(dst). Good enough to drive a forward pass
// deterministically. It does not load the tokenizer that belongs to the
// model at modelPath.
func hashTokens(text string, dst []int64) {
	for i := range dst {
		dst[i] = 0
	}
	for i, f := range strings.Fields(text) {
		if i >= len(dst) {
			break
		}
		dst[i] = int64(fnvHash(f)%30000) + 1
	}
}

func fnvHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
