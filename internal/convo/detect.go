package convo

import (
	"net/http"
	"strings"

	"github.com/context-lens/sidecar/internal/normalizer"
)

type headerSignature struct {
	source string
	header string
	substr string
}

// headerSignatures are checked, in order, against request headers before
// falling back to system-prompt text signatures.
var headerSignatures = []headerSignature{
	{"claude-code", "user-agent", "claude-cli/"},
	{"claude-code", "x-app", "cli"},
	{"codex", "user-agent", "codex"},
	{"codex", "originator", "codex_cli"},
	{"gemini-cli", "user-agent", "GeminiCLI"},
	{"aider", "user-agent", "aider/"},
}

type textSignature struct {
	source string
	substr string
}

var textSignatures = []textSignature{
	{"claude-code", "Claude Code"},
	{"codex", "Codex CLI"},
	{"codex", "You are Codex"},
	{"gemini-cli", "Gemini CLI"},
	{"aider", "Aider"},
}

// DetectSourceTool identifies the client tool that produced a request when
// the proxy path carried no explicit source prefix, first by header
// signature, then by scanning the system prompt text.
func DetectSourceTool(headers http.Header, ctx *normalizer.ContextInfo) string {
	for _, sig := range headerSignatures {
		if v := headers.Get(sig.header); v != "" && strings.Contains(strings.ToLower(v), strings.ToLower(sig.substr)) {
			return sig.source
		}
	}

	for _, sp := range ctx.SystemPrompts {
		for _, sig := range textSignatures {
			if strings.Contains(sp.Content, sig.substr) {
				return sig.source
			}
		}
	}

	return ""
}
