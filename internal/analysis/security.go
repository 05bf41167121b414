package analysis

import (
	"regexp"

	"github.com/context-lens/sidecar/internal/normalizer"
)

// Severity ranks how urgently an alert should be surfaced.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityInfo   Severity = "info"
)

// Alert is one regex hit against a message's text.
type Alert struct {
	MessageIndex int      `json:"messageIndex"`
	Role         string   `json:"role"`
	ToolName     string   `json:"toolName,omitempty"`
	Severity     Severity `json:"severity"`
	Pattern      string   `json:"pattern"`
	Match        string   `json:"match"`
	Offset       int      `json:"offset"`
	Length       int      `json:"length"`
}

const maxMatchLen = 120

type catalogRule struct {
	name     string
	severity Severity
	re       *regexp.Regexp
}

// catalog is the tier-1 compiled set of known injection, jailbreak, and
// chat-template-leak signatures.
var catalog = []catalogRule{
	{"ignore-previous-instructions", SeverityHigh, regexp.MustCompile(`(?i)ignore (all|any|the) (previous|prior|above) instructions`)},
	{"disregard-system-prompt", SeverityHigh, regexp.MustCompile(`(?i)disregard (your|the) system prompt`)},
	{"reveal-system-prompt", SeverityHigh, regexp.MustCompile(`(?i)(repeat|reveal|print) (your|the) (system prompt|instructions) (verbatim|exactly)`)},
	{"dan-jailbreak", SeverityMedium, regexp.MustCompile(`(?i)\bDAN\b.{0,40}(do anything now)`)},
	{"developer-mode-jailbreak", SeverityMedium, regexp.MustCompile(`(?i)enable developer mode`)},
	{"chat-template-leak", SeverityMedium, regexp.MustCompile(`<\|(im_start|im_end|system|assistant|user)\|>`)},
	{"pretend-no-restrictions", SeverityMedium, regexp.MustCompile(`(?i)pretend you have no (restrictions|rules|limitations)`)},
}

var roleConfusionRe = regexp.MustCompile(`(?m)^(Human|Assistant|System)\s*:`)

var suspiciousUnicodeRe = regexp.MustCompile(`[\x{200B}-\x{200F}\x{202A}-\x{202E}\x{2060}-\x{2064}\x{FEFF}]`)

// ScanMessages runs the two-tier security scan over messages, skipping
// system/developer roles (those are operator-controlled, not
// client-supplied).
func ScanMessages(messages []normalizer.ParsedMessage) []Alert {
	var alerts []Alert

	for i, m := range messages {
		if m.Role == "system" || m.Role == "developer" {
			continue
		}

		text := messageText(m)
		toolName := messageToolName(m)

		for _, rule := range catalog {
			if loc := rule.re.FindStringIndex(text); loc != nil {
				alerts = append(alerts, newAlert(i, m.Role, toolName, rule.severity, rule.name, text, loc))
			}
		}

		if m.Role == "user" && hasToolResult(m) {
			if loc := roleConfusionRe.FindStringIndex(text); loc != nil {
				alerts = append(alerts, newAlert(i, m.Role, toolName, SeverityMedium, "role-confusion", text, loc))
			}
		}

		if loc := suspiciousUnicodeRe.FindStringIndex(text); loc != nil {
			alerts = append(alerts, newAlert(i, m.Role, toolName, SeverityInfo, "suspicious-unicode", text, loc))
		}
	}

	return alerts
}

func newAlert(index int, role, toolName string, severity Severity, pattern, text string, loc []int) Alert {
	match := text[loc[0]:loc[1]]
	if len(match) > maxMatchLen {
		match = match[:maxMatchLen]
	}
	return Alert{
		MessageIndex: index,
		Role:         role,
		ToolName:     toolName,
		Severity:     severity,
		Pattern:      pattern,
		Match:        match,
		Offset:       loc[0],
		Length:       loc[1] - loc[0],
	}
}

func messageText(m normalizer.ParsedMessage) string {
	if len(m.ContentBlocks) == 0 {
		return m.Content
	}
	text := m.Content
	if text == "" {
		for _, b := range m.ContentBlocks {
			text += b.Text
		}
	}
	for _, b := range m.ContentBlocks {
		if b.Kind != normalizer.BlockToolResult || b.ToolResult == nil {
			continue
		}
		for _, nested := range b.ToolResult.Content {
			if nested.Text == "" {
				continue
			}
			if text != "" {
				text += "\n"
			}
			text += nested.Text
		}
	}
	return text
}

func messageToolName(m normalizer.ParsedMessage) string {
	for _, b := range m.ContentBlocks {
		if b.Kind == normalizer.BlockToolUse && b.ToolUse != nil {
			return b.ToolUse.Name
		}
	}
	return ""
}

func hasToolResult(m normalizer.ParsedMessage) bool {
	for _, b := range m.ContentBlocks {
		if b.Kind == normalizer.BlockToolResult {
			return true
		}
	}
	return false
}
