package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

type openAIConfig struct {
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url"`
	HTTPReferer string `json:"http_referer"`
	XTitle      string `json:"x_title"`
}

// openAIProvider talks to the chat completions and embeddings endpoints of
// OpenAI and any compatible gateway.
type openAIProvider struct {
	name        string
	apiKey      string
	baseURL     string
	httpReferer string
	xTitle      string
	client      *http.Client
}

type openAIChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *openAIProvider) Name() string {
	return p.name
}

func (p *openAIProvider) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(p.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if p.httpReferer != "" {
		req.Header.Set("HTTP-Referer", p.httpReferer)
	}
	if p.xTitle != "" {
		req.Header.Set("X-Title", p.xTitle)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s request failed: %s: %s", p.name, resp.Status, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

func (p *openAIProvider) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	resp, err := p.post(ctx, "/chat/completions", openAIChatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s response has no choices", p.name)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (p *openAIProvider) Stream(ctx context.Context, model string, messages []Message, onDelta DeltaFunc) (string, error) {
	resp, err := p.post(ctx, "/chat/completions", openAIChatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	return readSSE(resp.Body, onDelta)
}

// readSSE consumes an OpenAI style event stream until [DONE] or EOF.
func readSSE(r io.Reader, onDelta DeltaFunc) (string, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return full.String(), fmt.Errorf("decode stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return full.String(), err
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

func (p *openAIProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	resp, err := p.post(ctx, "/embeddings", openAIEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var out openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%s response has no embeddings", p.name)
	}
	return out.Data[0].Embedding, nil
}

func newOpenAICompatibleFactory(name, defaultBaseURL string) ProviderFactory {
	return func(args interface{}) (IProvider, error) {
		cfg := &openAIConfig{}
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
		baseURL := strings.TrimSpace(cfg.BaseURL)
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		return &openAIProvider{
			name:        name,
			apiKey:      strings.TrimSpace(cfg.APIKey),
			baseURL:     baseURL,
			httpReferer: strings.TrimSpace(cfg.HTTPReferer),
			xTitle:      strings.TrimSpace(cfg.XTitle),
			client:      http.DefaultClient,
		}, nil
	}
}

func init() {
	Register("openai", newOpenAICompatibleFactory("openai", defaultOpenAIBaseURL))
	Register("openrouter", newOpenAICompatibleFactory("openrouter", defaultOpenRouterBaseURL))
}
