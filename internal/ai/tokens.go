package ai

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a BPE counter for model, falling back to
// cl100k_base and finally to a word based estimate when no encoding loads.
func NewTokenCounter(model string) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return EstimateCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

// EstimateCounter counts one token per word plus one per non-ASCII rune.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return estimateTokens(text)
}

func estimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}
