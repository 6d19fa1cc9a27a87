package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultVoyageBaseURL = "https://api.voyageai.com/v1"

type voyageConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// voyageProvider only serves embeddings.
type voyageProvider struct {
	inner *openAIProvider
}

type voyageEmbedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type,omitempty"`
}

func (p *voyageProvider) Name() string {
	return "voyage"
}

func (p *voyageProvider) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	return "", fmt.Errorf("voyage does not support generation: %w", ErrUnavailable)
}

func voyageInputType(taskType string) string {
	switch taskType {
	case TaskRetrievalQuery:
		return "query"
	case TaskRetrievalDocument:
		return "document"
	}
	return ""
}

func (p *voyageProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	resp, err := p.inner.post(ctx, "/embeddings", voyageEmbedRequest{
		Model:     model,
		Input:     []string{text},
		InputType: voyageInputType(taskType),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var out openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("voyage response has no embeddings")
	}
	return out.Data[0].Embedding, nil
}

func createVoyageFactory(args interface{}) (IProvider, error) {
	cfg := &voyageConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultVoyageBaseURL
	}
	return &voyageProvider{inner: &openAIProvider{
		name:    "voyage",
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		client:  http.DefaultClient,
	}}, nil
}

func init() {
	Register("voyage", createVoyageFactory)
}
