// Package prompt assembles bounded prompts from conversation history.
//
// DESIGN: The builder appends the new user message, then trims oldest
// non-system turns until the estimated token total fits the budget. A leading
// system turn is never trimmed. Trimming scans from most-recent to oldest and
// greedily keeps turns while the running total stays within budget, then
// reassembles in chronological order. The builder never fails: when even the
// system turn plus the new message exceed the budget, that minimal pair is
// returned as-is and the caller decides what to do with it.
package prompt

import (
	"github.com/windowchat/stream-gateway/internal/tokens"
)

// Role tags a conversation turn with its speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Order across a slice of turns is
// chronological and semantically significant.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Budget bounds the assembled prompt.
type Budget struct {
	MaxTokens int
}

// DefaultMaxTokens is the context budget when unconfigured.
const DefaultMaxTokens = 8192

// Builder assembles prompts within a token budget using an injected counter.
type Builder struct {
	counter tokens.Counter
}

// NewBuilder creates a builder backed by counter.
func NewBuilder(counter tokens.Counter) *Builder {
	return &Builder{counter: counter}
}

// Build appends newMessage as a final user turn and returns a chronological
// sequence that fits budget.MaxTokens, always retaining a leading system turn
// when one is present. The returned slice is freshly allocated; history is
// not modified.
func (b *Builder) Build(history []Turn, newMessage string, budget Budget) []Turn {
	if budget.MaxTokens <= 0 {
		budget.MaxTokens = DefaultMaxTokens
	}

	newTurn := Turn{Role: RoleUser, Content: newMessage}

	total := tokens.PrimingOverhead + b.counter.CountTurn(newMessage)
	for _, t := range history {
		total += b.counter.CountTurn(t.Content)
	}
	if total <= budget.MaxTokens {
		out := make([]Turn, 0, len(history)+1)
		out = append(out, history...)
		return append(out, newTurn)
	}

	var system *Turn
	rest := history
	if len(history) > 0 && history[0].Role == RoleSystem {
		system = &history[0]
		rest = history[1:]
	}

	running := tokens.PrimingOverhead + b.counter.CountTurn(newMessage)
	if system != nil {
		running += b.counter.CountTurn(system.Content)
	}

	// Most-recent first: keep each turn while it still fits.
	var keptNewestFirst []Turn
	for i := len(rest) - 1; i >= 0; i-- {
		cost := b.counter.CountTurn(rest[i].Content)
		if running+cost > budget.MaxTokens {
			break
		}
		keptNewestFirst = append(keptNewestFirst, rest[i])
		running += cost
	}

	out := make([]Turn, 0, len(keptNewestFirst)+2)
	if system != nil {
		out = append(out, *system)
	}
	for i := len(keptNewestFirst) - 1; i >= 0; i-- {
		out = append(out, keptNewestFirst[i])
	}
	return append(out, newTurn)
}

// EstimateTokens returns the estimated total cost of a turn sequence,
// including the per-prompt priming overhead.
func (b *Builder) EstimateTokens(turns []Turn) int {
	total := tokens.PrimingOverhead
	for _, t := range turns {
		total += b.counter.CountTurn(t.Content)
	}
	return total
}
