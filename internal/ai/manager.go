package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type ManagerConfig struct {
	Timeout       int
	MaxInputChars int
}

// Manager bundles the configured generator, embedder and optional OCR reader.
type Manager struct {
	generator IGenerator
	embedder  IEmbedder
	ocr       IOCR
	cfg       ManagerConfig
}

func NewManager(generator IGenerator, embedder IEmbedder, ocr IOCR, cfg ManagerConfig) *Manager {
	return &Manager{
		generator: generator,
		embedder:  embedder,
		ocr:       ocr,
		cfg:       cfg,
	}
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.embedder.Embed(ctx, m.clip(text), taskType)
}

func (m *Manager) EmbeddingModelName() string {
	if m.embedder == nil {
		return ""
	}
	return m.embedder.ModelName()
}

// Answer streams a chat completion to onDelta and returns the full text.
func (m *Manager) Answer(ctx context.Context, messages []Message, onDelta DeltaFunc) (string, error) {
	if m.generator == nil {
		return "", fmt.Errorf("generator not configured")
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	text, err := m.generator.Stream(ctx, messages, onDelta)
	if err != nil {
		return text, err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

// SuggestTitle produces a short session title from the opening question.
func (m *Manager) SuggestTitle(ctx context.Context, question string) (string, error) {
	if m.generator == nil {
		return "", fmt.Errorf("generator not configured")
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	prompt := fmt.Sprintf(`Write a title of at most 6 words for a conversation that starts with the question below.
- Use the same language as the question.
- Output ONLY the title, without quotes.

QUESTION:
%s`, m.clip(question))
	resp, err := m.generator.Generate(ctx, []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		return "", err
	}
	title := strings.Trim(strings.TrimSpace(resp), `"'`)
	if title == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return title, nil
}

func (m *Manager) OCR() IOCR {
	return m.ocr
}

func (m *Manager) clip(text string) string {
	if m.cfg.MaxInputChars <= 0 || utf8.RuneCountInString(text) <= m.cfg.MaxInputChars {
		return text
	}
	return string([]rune(text)[:m.cfg.MaxInputChars])
}
