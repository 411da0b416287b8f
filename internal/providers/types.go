package providers

import "context"

// Provider is the interface all LLM adapters must implement.
// The crawl loop sends one fully-assembled prompt per step, optionally
// paired with a screenshot, and receives raw text back.
type Provider interface {
	// GenerateResponse sends the prompt (and image, when supported) and
	// returns the model's text plus token usage.
	GenerateResponse(ctx context.Context, req Request) (*Response, error)

	// Capabilities describes what the provider can accept. The core
	// consults this before attaching an image at all.
	Capabilities() Capabilities

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// Request is the input for one GenerateResponse call.
type Request struct {
	Prompt string
	Model  string // overrides the default when non-empty
	Image  *ImageAttachment
}

// ImageAttachment is a base64-encoded screenshot for vision models.
type ImageAttachment struct {
	MimeType string // e.g. "image/jpeg"
	Data     string // base64-encoded bytes
}

// Response is the result of an LLM call.
type Response struct {
	Text  string
	Usage Usage

	// ImageDropped is set when the adapter silently removed the image
	// (payload over the provider limit). The loop records it.
	ImageDropped bool
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Capabilities declares provider limits.
type Capabilities struct {
	SupportsImages    bool
	MaxImageBytes     int // decoded-size limit; 0 = no limit
	MaxInputTokens    int
	MaxOutputTokens   int
}
