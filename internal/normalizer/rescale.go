package normalizer

// RescaleContextTokens scales every token field in ctx proportionally so
// TotalTokens matches authoritativeTotal (usually response usage.input
// tokens, which reflect the provider's own tokenizer rather than our
// estimate). The per-message residual from rounding is injected into the
// largest message entry so MessagesTokens stays exactly consistent.
// A non-positive or zero-total ctx is left untouched.
func RescaleContextTokens(ctx *ContextInfo, authoritativeTotal int) {
	if authoritativeTotal <= 0 || ctx.TotalTokens <= 0 {
		return
	}
	if authoritativeTotal == ctx.TotalTokens {
		return
	}

	scale := float64(authoritativeTotal) / float64(ctx.TotalTokens)

	ctx.SystemTokens = scaleRound(ctx.SystemTokens, scale)
	ctx.ToolsTokens = scaleRound(ctx.ToolsTokens, scale)

	messagesTarget := authoritativeTotal - ctx.SystemTokens - ctx.ToolsTokens
	if messagesTarget < 0 {
		messagesTarget = 0
	}

	rescaleMessages(ctx.Messages, messagesTarget)

	ctx.MessagesTokens = messagesTarget
	ctx.TotalTokens = ctx.SystemTokens + ctx.ToolsTokens + ctx.MessagesTokens
}

func rescaleMessages(messages []ParsedMessage, target int) {
	if len(messages) == 0 {
		return
	}

	originalTotal := 0
	for _, m := range messages {
		originalTotal += m.Tokens
	}
	if originalTotal == 0 {
		return
	}

	scale := float64(target) / float64(originalTotal)

	sum := 0
	largest := 0
	for i := range messages {
		messages[i].Tokens = scaleRound(messages[i].Tokens, scale)
		sum += messages[i].Tokens
		if messages[i].Tokens > messages[largest].Tokens {
			largest = i
		}
	}

	residual := target - sum
	messages[largest].Tokens += residual
	if messages[largest].Tokens < 0 {
		messages[largest].Tokens = 0
	}
}

func scaleRound(v int, scale float64) int {
	return int(float64(v)*scale + 0.5)
}
