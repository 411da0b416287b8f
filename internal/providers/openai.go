package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Provider for OpenAI-compatible APIs
// (OpenAI itself, and Gemini through its OpenAI-compatible endpoint).
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	vision       bool
	client       *http.Client
	retryConfig  RetryConfig
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible API.
func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}

	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		vision:       true,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

// NewGeminiProvider routes through Gemini's OpenAI-compatible surface.
func NewGeminiProvider(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return NewOpenAIProvider("gemini", apiKey,
		"https://generativelanguage.googleapis.com/v1beta/openai", model)
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{
		SupportsImages:  p.vision,
		MaxImageBytes:   20 * 1024 * 1024,
		MaxInputTokens:  128_000,
		MaxOutputTokens: 8192,
	}
}

func (p *OpenAIProvider) GenerateResponse(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	var content interface{} = req.Prompt
	if req.Image != nil {
		content = []map[string]interface{}{
			{
				"type": "image_url",
				"image_url": map[string]string{
					"url": fmt.Sprintf("data:%s;base64,%s", req.Image.MimeType, req.Image.Data),
				},
			},
			{"type": "text", "text": req.Prompt},
		}
	}

	body := map[string]interface{}{
		"model": model,
		"messages": []map[string]interface{}{
			{"role": "user", "content": content},
		},
		"max_tokens": 8192,
	}

	return RetryDo(ctx, p.retryConfig, func() (*Response, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%s: empty choices", p.name)
		}

		return &Response{
			Text: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}, nil
	})
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}

// --- OpenAI API types (internal) ---

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
