package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/search"
)

const (
	noSourcesAnswer = "I couldn't find relevant information in your documents."
	snippetRunes    = 240
	titleRunes      = 60
)

const systemPrompt = `You are a helpful assistant that answers questions using only the user's documents.
Rules:
- Use only the numbered sources below. If they do not contain the answer, say you could not find it.
- Cite sources inline with their number in square brackets, for example [1] or [2][3].
- Answer in the same language as the question.
- Be concise and do not invent facts.`

// responseCacheKey identifies an answer by owner, document scope and the
// normalised question.
func responseCacheKey(userID string, docIDs []string, question string) string {
	scope := append([]string(nil), docIDs...)
	sort.Strings(scope)
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(scope, ",")))
	h.Write([]byte{0})
	h.Write([]byte(normalizeQuestion(question)))
	return "answer:" + hex.EncodeToString(h.Sum(nil))
}

func normalizeQuestion(q string) string {
	q = strings.ToLower(strings.Join(strings.Fields(q), " "))
	return strings.TrimRight(q, "?!. ")
}

type promptInput struct {
	question   string
	candidates []search.Candidate
	docNames   map[string]string
	history    []model.Conversation
	budget     int
}

// buildPrompt assembles the message list within budget tokens. Sources are
// added in rank order first and the remaining budget goes to the newest
// history turns. It returns the sources that made it into the prompt.
func buildPrompt(counter ai.TokenCounter, in promptInput) ([]ai.Message, []model.Source) {
	remaining := in.budget - counter.Count(systemPrompt) - counter.Count(in.question)
	var blocks strings.Builder
	sources := make([]model.Source, 0, len(in.candidates))
	for _, c := range in.candidates {
		idx := len(sources) + 1
		block := fmt.Sprintf("[%d] %s\n%s\n\n", idx, in.docNames[c.DocumentID], strings.TrimSpace(c.Content))
		cost := counter.Count(block)
		// the best source is always kept
		if cost > remaining && len(sources) > 0 {
			break
		}
		remaining -= cost
		blocks.WriteString(block)
		sources = append(sources, model.Source{
			Index:      idx,
			DocumentID: c.DocumentID,
			Document:   in.docNames[c.DocumentID],
			ChunkID:    c.ChunkID,
			Position:   c.Position,
			Score:      c.Score,
			Snippet:    snippet(c.Content),
		})
	}

	history := make([]ai.Message, 0, len(in.history)*2)
	for i := len(in.history) - 1; i >= 0; i-- {
		turn := in.history[i]
		cost := counter.Count(turn.Question) + counter.Count(turn.Answer)
		if cost > remaining {
			break
		}
		remaining -= cost
		history = append([]ai.Message{
			{Role: ai.RoleUser, Content: turn.Question},
			{Role: ai.RoleAssistant, Content: turn.Answer},
		}, history...)
	}

	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{
		Role:    ai.RoleSystem,
		Content: systemPrompt + "\n\nSOURCES:\n\n" + strings.TrimSpace(blocks.String()),
	})
	messages = append(messages, history...)
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: in.question})
	return messages, sources
}

func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= snippetRunes {
		return content
	}
	return string([]rune(content)[:snippetRunes]) + "…"
}

func defaultTitle(question string) string {
	q := strings.Join(strings.Fields(question), " ")
	if utf8.RuneCountInString(q) <= titleRunes {
		return q
	}
	return string([]rune(q)[:titleRunes]) + "…"
}
