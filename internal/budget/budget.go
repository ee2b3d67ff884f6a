// Package budget estimates prompt sizes for the expert crew. Backends use
// different tokenizers, so the estimate is a conservative character heuristic:
// 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// the small local models the crew defaults to (phi3, gemma, qwen) with
	// room left for the response.
	DefaultMaxContextTokens = 6000

	// messageOverhead approximates the per-message framing most chat APIs add.
	messageOverhead = 4
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Usage is the estimated size of one prompt against its budget.
type Usage struct {
	// Tokens is the estimated input size.
	Tokens int
	// Max is the budget the estimate was checked against.
	Max int
}

// Over reports whether the estimate exceeds the budget.
func (u Usage) Over() bool { return u.Max > 0 && u.Tokens > u.Max }

// Check estimates msgs against maxTokens. A non-positive maxTokens uses
// DefaultMaxContextTokens. Messages are never dropped; callers decide whether
// an over-budget prompt is worth a warning.
func Check(msgs []*schema.Message, maxTokens int) Usage {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	return Usage{Tokens: EstimateMessages(msgs), Max: maxTokens}
}
