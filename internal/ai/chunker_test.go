package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkerPlainTextOverlap(t *testing.T) {
	c := NewChunker(EstimateCounter{}, 10, 4)
	input := "one two three\n\nfour five six\n\nseven eight nine\n\nten eleven"
	pieces := c.Chunk(context.Background(), input, false)
	require.Len(t, pieces, 2)
	require.Equal(t, "one two three\n\nfour five six\n\nseven eight nine", pieces[0].Content)
	require.Equal(t, "seven eight nine\n\nten eleven", pieces[1].Content)
	for i, p := range pieces {
		require.Equal(t, i, p.Position)
		require.LessOrEqual(t, p.TokenCount, 10)
	}
}

func TestChunkerSplitsOversizedBlock(t *testing.T) {
	c := NewChunker(EstimateCounter{}, 5, 2)
	words := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		words = append(words, "w")
	}
	pieces := c.Chunk(context.Background(), strings.Join(words, " "), false)
	require.Len(t, pieces, 4)
	for _, p := range pieces {
		require.LessOrEqual(t, p.TokenCount, 5)
	}
	require.Equal(t, 5, pieces[0].TokenCount)
}

func TestChunkerMarkdownHeadings(t *testing.T) {
	c := NewChunker(EstimateCounter{}, 50, 10)
	md := "# Billing\n\nInvoices are due in 30 days.\n\n## Refunds\n\nRefunds take a week.\n\n```go\nfmt.Println(1)\n```\n"
	pieces := c.Chunk(context.Background(), md, true)
	require.Len(t, pieces, 2)
	require.Equal(t, "Billing\n\nInvoices are due in 30 days.", pieces[0].Content)
	require.True(t, strings.HasPrefix(pieces[1].Content, "Refunds\n\nRefunds take a week."))
	require.Contains(t, pieces[1].Content, "```go\nfmt.Println(1)\n```")
}

func TestChunkerEmptyInput(t *testing.T) {
	c := NewChunker(nil, 0, 0)
	require.Empty(t, c.Chunk(context.Background(), "  \n\n ", false))
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 0, estimateTokens(""))
	require.Equal(t, 3, estimateTokens("a b c"))
	require.Equal(t, 3, estimateTokens("日本"))
	require.Equal(t, 1, estimateTokens(" "))
}
