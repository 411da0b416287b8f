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

// OllamaProvider implements Provider for a local Ollama server.
// Token usage comes from Ollama's eval counters.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	vision       bool
	client       *http.Client
	retryConfig  RetryConfig
}

// NewOllamaProvider creates a provider for a local Ollama endpoint.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	if model == "" {
		model = "llama3.2-vision"
	}
	return &OllamaProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: model,
		vision:       strings.Contains(model, "vision") || strings.Contains(model, "llava"),
		client:       &http.Client{Timeout: 300 * time.Second},
		retryConfig:  RetryConfig{MaxAttempts: 2, BaseDelay: 2 * time.Second},
	}
}

func (p *OllamaProvider) Name() string         { return "ollama" }
func (p *OllamaProvider) DefaultModel() string { return p.defaultModel }

func (p *OllamaProvider) Capabilities() Capabilities {
	return Capabilities{
		SupportsImages: p.vision,
		// Local models choke on large payloads well before any API
		// limit; keep screenshots small.
		MaxImageBytes:   2 * 1024 * 1024,
		MaxInputTokens:  32_000,
		MaxOutputTokens: 4096,
	}
}

func (p *OllamaProvider) GenerateResponse(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := map[string]interface{}{
		"model":  model,
		"prompt": req.Prompt,
		"stream": false,
	}
	if req.Image != nil {
		body["images"] = []string{req.Image.Data}
	}

	return RetryDo(ctx, p.retryConfig, func() (*Response, error) {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ollama: marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/generate", bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("ollama: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := p.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("ollama: request failed: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(httpResp.Body)
			return nil, &HTTPError{Status: httpResp.StatusCode, Body: "ollama: " + string(respBody)}
		}

		var resp ollamaResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return nil, fmt.Errorf("ollama: decode response: %w", err)
		}

		return &Response{
			Text: resp.Response,
			Usage: Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			},
		}, nil
	})
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Done            bool   `json:"done"`
}
