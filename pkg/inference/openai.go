package inference

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrUpstreamAuth marks 401/403 responses from a provider. Logged without a
// stack; the worker still writes a terminal error summary.
var ErrUpstreamAuth = errors.New("inference provider rejected credentials")

// OpenAIProvider is an OpenAI-compatible chat-completions endpoint.
type OpenAIProvider struct {
	client openai.Client
	name   string
	model  string
}

// NewOpenAIProvider builds a provider for the given endpoint. An empty
// baseURL targets the default API host.
func NewOpenAIProvider(name, apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		name:   name,
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string  { return p.name }
func (p *OpenAIProvider) Model() string { return p.model }

// classify wraps provider errors, tagging auth rejections.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403) {
		return fmt.Errorf("%w: status %d", ErrUpstreamAuth, apiErr.StatusCode)
	}
	return err
}

// CompleteText runs a plain text completion (intent normalization).
func (p *OpenAIProvider) CompleteText(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider %s returned no choices", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeImages sends the prompt plus extracted frames as image parts.
func (p *OpenAIProvider) AnalyzeImages(ctx context.Context, prompt string, frames []string) (string, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(frames)+1)
	parts = append(parts, openai.TextContentPart(prompt))
	for _, frame := range frames {
		parts = append(parts, openai.ImageContentPart(
			openai.ChatCompletionContentPartImageImageURLParam{URL: frame},
		))
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider %s returned no choices", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeVideo sends the whole clip as a single video_url content part.
// The typed params have no video part, so this goes through the SDK's raw
// request path against the same chat/completions endpoint.
func (p *OpenAIProvider) AnalyzeVideo(ctx context.Context, prompt, videoDataURL string) (string, error) {
	body := map[string]any{
		"model": p.model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "video_url", "video_url": map[string]any{"url": videoDataURL}},
				},
			},
		},
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := p.client.Post(ctx, "chat/completions", body, &resp); err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider %s returned no choices", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}
