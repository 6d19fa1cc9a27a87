package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const ocrPrompt = `Transcribe all readable text in this image.
- Keep the original language and reading order.
- Render tables as markdown tables.
- Output ONLY the transcribed text. If there is no text, output nothing.`

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

type geminiProvider struct {
	apiKey string
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) client(ctx context.Context) (*genai.Client, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// toGeminiContents splits system messages into the system instruction and
// maps assistant turns onto the model role.
func toGeminiContents(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	var config *genai.GenerateContentConfig
	if len(system) > 0 {
		config = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}},
		}
	}
	return contents, config
}

func (p *geminiProvider) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	client, err := p.client(ctx)
	if err != nil {
		return "", err
	}
	contents, config := toGeminiContents(messages)
	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *geminiProvider) Stream(ctx context.Context, model string, messages []Message, onDelta DeltaFunc) (string, error) {
	client, err := p.client(ctx)
	if err != nil {
		return "", err
	}
	contents, config := toGeminiContents(messages)
	var full strings.Builder
	for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return full.String(), fmt.Errorf("gemini stream: %w", err)
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

func (p *geminiProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	var config *genai.EmbedContentConfig
	if taskType != "" {
		config = &genai.EmbedContentConfig{TaskType: taskType}
	}
	resp, err := client.Models.EmbedContent(ctx, model, []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}, config)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}

func (p *geminiProvider) ExtractImageText(ctx context.Context, model string, mimeType string, data []byte) (string, error) {
	client, err := p.client(ctx)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			{Text: ocrPrompt},
		},
	}}
	resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

func createGeminiFactory(args interface{}) (IProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiProvider{apiKey: strings.TrimSpace(cfg.APIKey)}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
}
