package convo

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/context-lens/sidecar/internal/normalizer"
)

var workingDirTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Primary working directory:\s*([^\n]+)`),
	regexp.MustCompile(`(?is)<cwd>\s*([^<]+?)\s*</cwd>`),
	regexp.MustCompile(`(?i)I'm currently working in the directory:\s*([^\n]+)`),
	regexp.MustCompile(`(?i)working directory (?:is|=)\s*([^\n,;]+)`),
	regexp.MustCompile(`(?i)cwd:\s*([^\n,;]+)`),
}

// workingDirKeys are the raw-body key names checked during the depth-first
// fallback walk, in priority order.
var workingDirKeys = []string{"cwd", "workingDirectory", "workspaceRoot", "projectRoot", "sandboxCwd"}

const workingDirWalkDepth = 8

// WorkingDirectory locates the client's working directory, first by
// scanning system prompt and user message text for known tool signatures,
// then by walking the raw request body for a conventionally-named key.
func WorkingDirectory(ctx *normalizer.ContextInfo, rawBody []byte) string {
	for _, sp := range ctx.SystemPrompts {
		if dir := matchWorkingDirText(sp.Content); dir != "" {
			return dir
		}
	}
	for _, m := range ctx.Messages {
		if m.Role != "user" {
			continue
		}
		if dir := matchWorkingDirText(m.Content); dir != "" {
			return dir
		}
	}

	var doc any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		return ""
	}
	return findWorkingDirKey(doc, 0)
}

func matchWorkingDirText(text string) string {
	for _, re := range workingDirTextPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			candidate := strings.TrimSpace(m[1])
			if looksLikePath(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func findWorkingDirKey(node any, depth int) string {
	if depth > workingDirWalkDepth {
		return ""
	}

	switch v := node.(type) {
	case map[string]any:
		for _, key := range workingDirKeys {
			if raw, ok := v[key]; ok {
				if s, ok := raw.(string); ok && looksLikePath(s) {
					return s
				}
			}
		}
		for _, child := range v {
			if dir := findWorkingDirKey(child, depth+1); dir != "" {
				return dir
			}
		}
	case []any:
		for _, child := range v {
			if dir := findWorkingDirKey(child, depth+1); dir != "" {
				return dir
			}
		}
	}
	return ""
}

func looksLikePath(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "~/") {
		return true
	}
	if len(s) >= 3 && s[1] == ':' && (s[2] == '\\' || s[2] == '/') {
		return true // Windows drive-letter absolute path, e.g. C:\Users\...
	}
	return false
}
