package convo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/context-lens/sidecar/internal/normalizer"
)

func TestWorkingDirectoryFromClaudeSystemPrompt(t *testing.T) {
	ctx := &normalizer.ContextInfo{
		SystemPrompts: []normalizer.SystemPrompt{{Content: "Primary working directory: /home/user/project\nOther stuff."}},
	}
	assert.Equal(t, "/home/user/project", WorkingDirectory(ctx, []byte(`{}`)))
}

func TestWorkingDirectoryFromCodexCwdTag(t *testing.T) {
	ctx := &normalizer.ContextInfo{
		Messages: []normalizer.ParsedMessage{{Role: "user", Content: "<cwd>/home/user/repo</cwd>"}},
	}
	assert.Equal(t, "/home/user/repo", WorkingDirectory(ctx, []byte(`{}`)))
}

func TestWorkingDirectoryFromGeminiPhrase(t *testing.T) {
	ctx := &normalizer.ContextInfo{
		SystemPrompts: []normalizer.SystemPrompt{{Content: "I'm currently working in the directory: /home/user/app"}},
	}
	assert.Equal(t, "/home/user/app", WorkingDirectory(ctx, []byte(`{}`)))
}

func TestWorkingDirectoryFallsBackToRawBodyKey(t *testing.T) {
	ctx := &normalizer.ContextInfo{}
	body := []byte(`{"meta":{"nested":{"workspaceRoot":"/srv/app"}}}`)
	assert.Equal(t, "/srv/app", WorkingDirectory(ctx, body))
}

func TestWorkingDirectoryEmptyWhenNotFound(t *testing.T) {
	ctx := &normalizer.ContextInfo{}
	assert.Equal(t, "", WorkingDirectory(ctx, []byte(`{"unrelated":"value"}`)))
}
