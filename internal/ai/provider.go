package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnavailable = errors.New("ai provider unavailable")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DeltaFunc receives streamed answer fragments in order. Returning an error aborts the stream.
type DeltaFunc func(delta string) error

type IProvider interface {
	Name() string
	Generate(ctx context.Context, model string, messages []Message) (string, error)
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

// IStreamProvider is implemented by providers with native token streaming.
type IStreamProvider interface {
	Stream(ctx context.Context, model string, messages []Message, onDelta DeltaFunc) (string, error)
}

// IOCRProvider is implemented by multimodal providers able to read images.
type IOCRProvider interface {
	ExtractImageText(ctx context.Context, model string, mimeType string, data []byte) (string, error)
}

type IGenerator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message, onDelta DeltaFunc) (string, error)
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type IOCR interface {
	ExtractText(ctx context.Context, mimeType string, data []byte) (string, error)
}

type generator struct {
	provider IProvider
	model    string
}

func NewGenerator(p IProvider, model string) IGenerator {
	return &generator{provider: p, model: model}
}

func (g *generator) Generate(ctx context.Context, messages []Message) (string, error) {
	return g.provider.Generate(ctx, g.model, messages)
}

// Stream uses native streaming when available and otherwise emits the full
// answer as a single delta.
func (g *generator) Stream(ctx context.Context, messages []Message, onDelta DeltaFunc) (string, error) {
	if sp, ok := g.provider.(IStreamProvider); ok {
		return sp.Stream(ctx, g.model, messages, onDelta)
	}
	text, err := g.provider.Generate(ctx, g.model, messages)
	if err != nil {
		return "", err
	}
	if err := onDelta(text); err != nil {
		return "", err
	}
	return text, nil
}

type embedder struct {
	provider IProvider
	model    string
}

func NewEmbedder(p IProvider, model string) IEmbedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.provider.Embed(ctx, e.model, text, taskType)
}

func (e *embedder) ModelName() string {
	return e.model
}

type ocr struct {
	provider IOCRProvider
	model    string
}

// NewOCR wraps p when it can read images.
func NewOCR(p IProvider, model string) (IOCR, error) {
	op, ok := p.(IOCRProvider)
	if !ok {
		return nil, fmt.Errorf("ai provider %s does not support ocr", p.Name())
	}
	return &ocr{provider: op, model: model}, nil
}

func (o *ocr) ExtractText(ctx context.Context, mimeType string, data []byte) (string, error) {
	return o.provider.ExtractImageText(ctx, o.model, mimeType, data)
}

type ProviderFactory func(args interface{}) (IProvider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
