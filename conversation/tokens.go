package conversation

// TokenCalculator estimates the token cost of a text fragment. Pluggable so
// callers can supply a tokenizer matched to their backend.
type TokenCalculator func(text string) int

// DefaultTokenCalculator is a rough chars/4 heuristic, good enough for
// budget checks when no real tokenizer is wired.
func DefaultTokenCalculator(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// TokenStats breaks down the estimated context size of a buffer.
type TokenStats struct {
	CommittedEntries int `json:"committed_entries"`
	CommittedTokens  int `json:"committed_tokens"`
	PendingTokens    int `json:"pending_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EstimateTokens sums the calculator over all committed entries plus the
// uncommitted pending state, so budget checks see the true current context
// size even before a flush.
func (b *Buffer) EstimateTokens(calc TokenCalculator) int {
	return b.TokenStats(calc).TotalTokens
}

// TokenStats computes a full committed/pending token breakdown.
func (b *Buffer) TokenStats(calc TokenCalculator) TokenStats {
	if calc == nil {
		calc = DefaultTokenCalculator
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	stats := TokenStats{CommittedEntries: len(b.entries)}
	for _, e := range b.entries {
		stats.CommittedTokens += calc(e.Content)
	}

	stats.PendingTokens += calc(b.pendingContent.String())
	stats.PendingTokens += calc(b.pendingReasoning.String())
	for _, pc := range b.pendingToolCalls {
		stats.PendingTokens += calc(pc.Arguments)
		if pc.Result != nil {
			stats.PendingTokens += calc(*pc.Result)
		}
	}

	stats.TotalTokens = stats.CommittedTokens + stats.PendingTokens
	return stats
}
