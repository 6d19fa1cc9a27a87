package ai

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
)

const (
	DefaultChunkTokens   = 500
	DefaultOverlapTokens = 80
)

type Piece struct {
	Position   int
	Content    string
	TokenCount int
}

type Chunker struct {
	counter TokenCounter
	size    int
	overlap int
}

func NewChunker(counter TokenCounter, size, overlap int) *Chunker {
	if counter == nil {
		counter = EstimateCounter{}
	}
	if size <= 0 {
		size = DefaultChunkTokens
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlapTokens
	}
	return &Chunker{counter: counter, size: size, overlap: overlap}
}

func (c *Chunker) Counter() TokenCounter {
	return c.counter
}

// Chunk splits extracted text into overlapping pieces. Markdown input is
// split along its block structure with level 1-2 headings starting a new
// piece; anything else is split on blank lines.
func (c *Chunker) Chunk(ctx context.Context, content string, markdown bool) []Piece {
	var blocks []block
	if markdown {
		blocks = markdownBlocks(content)
	} else {
		blocks = plainBlocks(content)
	}
	b := &pieceBuilder{c: c}
	for _, blk := range blocks {
		if blk.heading != "" {
			b.flush(false)
			b.heading = blk.heading
			continue
		}
		b.add(blk.text)
	}
	b.flush(false)
	logutil.GetLogger(ctx).Debug("chunking completed",
		zap.Bool("markdown", markdown),
		zap.Int("size", len(content)),
		zap.Int("total_chunks", len(b.pieces)))
	return b.pieces
}

type block struct {
	heading string
	text    string
}

type pieceBuilder struct {
	c       *Chunker
	pieces  []Piece
	parts   []string
	tokens  int
	heading string
	fresh   bool
}

func (b *pieceBuilder) add(txt string) {
	txt = strings.TrimSpace(txt)
	if txt == "" {
		return
	}
	tokens := b.c.counter.Count(txt)
	if tokens > b.c.size {
		b.flush(true)
		for _, window := range b.c.splitWords(txt) {
			b.parts = []string{window}
			b.tokens = b.c.counter.Count(window)
			b.fresh = true
			b.flush(false)
		}
		return
	}
	if b.tokens+tokens > b.c.size {
		b.flush(true)
		if b.tokens+tokens > b.c.size {
			b.parts, b.tokens = nil, 0
		}
	}
	b.parts = append(b.parts, txt)
	b.tokens += tokens
	b.fresh = true
}

// flush emits the buffered parts. With keepOverlap the trailing parts that
// fit in the overlap budget seed the next piece.
func (b *pieceBuilder) flush(keepOverlap bool) {
	if len(b.parts) == 0 || !b.fresh {
		if !keepOverlap {
			b.parts, b.tokens = nil, 0
		}
		return
	}
	content := strings.Join(b.parts, "\n\n")
	if b.heading != "" {
		content = b.heading + "\n\n" + content
	}
	b.pieces = append(b.pieces, Piece{
		Position:   len(b.pieces),
		Content:    content,
		TokenCount: b.c.counter.Count(content),
	})
	b.fresh = false
	if !keepOverlap || len(b.parts) < 2 {
		b.parts, b.tokens = nil, 0
		return
	}
	var kept []string
	keptTokens := 0
	for i := len(b.parts) - 1; i > 0; i-- {
		t := b.c.counter.Count(b.parts[i])
		if keptTokens+t > b.c.overlap {
			break
		}
		keptTokens += t
		kept = append([]string{b.parts[i]}, kept...)
	}
	b.parts, b.tokens = kept, keptTokens
}

// splitWords cuts an oversized block into windows of at most size tokens,
// each starting overlap tokens before the previous window ended.
func (c *Chunker) splitWords(txt string) []string {
	words := strings.Fields(txt)
	costs := make([]int, len(words))
	for i, w := range words {
		costs[i] = c.counter.Count(w)
		if costs[i] == 0 {
			costs[i] = 1
		}
	}
	var windows []string
	start := 0
	for start < len(words) {
		end, sum := start, 0
		for end < len(words) && (sum+costs[end] <= c.size || end == start) {
			sum += costs[end]
			end++
		}
		windows = append(windows, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}
		next, back := end, 0
		for next > start+1 && back+costs[next-1] <= c.overlap {
			back += costs[next-1]
			next--
		}
		start = next
	}
	return windows
}

func plainBlocks(content string) []block {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var blocks []block
	for _, para := range strings.Split(content, "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			blocks = append(blocks, block{text: para})
		}
	}
	return blocks
}

func markdownBlocks(content string) []block {
	source := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	var blocks []block
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			title := extractText(n, source)
			if n.Level <= 2 {
				blocks = append(blocks, block{heading: title})
			} else {
				blocks = append(blocks, block{text: title})
			}
		case *ast.FencedCodeBlock:
			var sb strings.Builder
			for i := 0; i < n.Lines().Len(); i++ {
				line := n.Lines().At(i)
				sb.Write(line.Value(source))
			}
			lang := string(n.Language(source))
			blocks = append(blocks, block{text: "```" + lang + "\n" + strings.TrimRight(sb.String(), "\n") + "\n```"})
		default:
			if txt := extractText(n, source); txt != "" {
				blocks = append(blocks, block{text: txt})
			}
		}
	}
	return blocks
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := node.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
