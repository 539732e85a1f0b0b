// Package tokens provides pluggable token estimation for prompt budgeting.
//
// DESIGN: Token accounting is approximate and provider-specific, so the
// counter is a capability injected into the prompt builder rather than a
// fixed implementation. Two counters are provided:
//   - TiktokenCounter: cl100k_base BPE counts via tiktoken.
//   - HeuristicCounter: Unicode-aware character weighting, used when the
//     tiktoken encoding cannot be loaded (offline environments).
//
// Per-turn accounting adds a fixed overhead per message plus a priming
// constant per assembled prompt, matching the upstream chat format.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// TurnOverhead is the fixed token cost attributed to each message on top of
// its content (role tag and separators).
const TurnOverhead = 4

// PrimingOverhead is added once per assembled prompt for the reply priming.
const PrimingOverhead = 2

// Counter estimates token counts for text and conversation turns.
type Counter interface {
	// Count returns the estimated token count of text.
	Count(text string) int
	// CountTurn returns the estimated cost of one message: TurnOverhead
	// plus the content tokens.
	CountTurn(content string) int
}

// =============================================================================
// TIKTOKEN COUNTER
// =============================================================================

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding ("cl100k_base" when empty).
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) CountTurn(content string) int {
	return TurnOverhead + c.Count(content)
}

// =============================================================================
// HEURISTIC COUNTER
// =============================================================================

// HeuristicCounter estimates tokens from character weights: ASCII at ~4 chars
// per token, everything else (CJK, Cyrillic, emoji) at ~1 char per token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

func (HeuristicCounter) CountTurn(content string) int {
	return TurnOverhead + HeuristicCounter{}.Count(content)
}

// Default returns the tiktoken counter, falling back to the heuristic when
// the encoding is unavailable.
func Default() Counter {
	c, err := NewTiktokenCounter("")
	if err != nil {
		log.Warn().Err(err).Msg("tiktoken encoding unavailable, using heuristic counter")
		return HeuristicCounter{}
	}
	return c
}
