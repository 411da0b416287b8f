package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration for a droidcrawl session.
type Config struct {
	App       AppConfig       `json:"app"`
	Crawl     CrawlConfig     `json:"crawl"`
	Device    DeviceConfig    `json:"device"`
	AI        AIConfig        `json:"ai"`
	Providers ProvidersConfig `json:"providers"`
	Signup    SignupConfig    `json:"signup"`
	Session   SessionConfig   `json:"session"`
	Flags     FlagsConfig     `json:"flags,omitempty"`
	Hooks     HooksConfig     `json:"hooks,omitempty"`
	Observer  ObserverConfig  `json:"observer,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// AppConfig identifies the target application.
type AppConfig struct {
	Package  string `json:"package"`  // e.g. "com.example.shop"
	Activity string `json:"activity"` // entry activity, e.g. ".MainActivity"

	// Packages the crawl may legitimately visit besides the target
	// (browsers for OAuth, etc.). Used by the context filter only.
	AllowedExternalPackages []string `json:"allowed_external_packages,omitempty"`
}

// CrawlConfig drives the step loop.
type CrawlConfig struct {
	Mode               string  `json:"mode"`                 // "steps" or "time"
	MaxSteps           int     `json:"max_steps"`            // cap in "steps" mode
	MaxDurationSeconds int     `json:"max_duration_seconds"` // cap in "time" mode
	WaitAfterAction    float64 `json:"wait_after_action"`    // settle seconds before observation
	WaitBetweenActions float64 `json:"wait_between_actions"` // inter-action sleep inside a batch
	StopOnBatchError   bool    `json:"stop_on_batch_error"`  // abort a batch on first failure

	JournalMaxLength          int     `json:"journal_max_length"`
	VisualSimilarityThreshold float64 `json:"visual_similarity_threshold"`
}

// DeviceConfig locates the WebDriver/Appium endpoint and the device.
type DeviceConfig struct {
	ServerURL      string `json:"server_url"`           // e.g. "http://127.0.0.1:4723"
	DeviceID       string `json:"device_id,omitempty"`  // empty = auto-detect
	ImplicitWaitMS int    `json:"implicit_wait_ms"`     // element-find implicit wait
	RequestTimeout int    `json:"request_timeout_secs"` // per-call HTTP timeout
	MaxRetries     int    `json:"max_retries"`          // session recovery attempts
}

// AIConfig selects the model adapter.
type AIConfig struct {
	Provider           string `json:"provider"` // "anthropic", "openai", "gemini", "ollama"
	Model              string `json:"model,omitempty"`
	EnableImageContext bool   `json:"enable_image_context"`
	RequestsPerMinute  int    `json:"requests_per_minute,omitempty"` // 0 = unlimited
	OCREnabled         bool   `json:"ocr_enabled"`
}

// ProvidersConfig holds per-provider credentials and endpoints.
// API keys come from env only, never from the config file.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic,omitempty"`
	OpenAI    ProviderConfig `json:"openai,omitempty"`
	Gemini    ProviderConfig `json:"gemini,omitempty"`
	Ollama    ProviderConfig `json:"ollama,omitempty"`
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"-"` // env only
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// SignupConfig holds the test identity used when an app asks to register.
type SignupConfig struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// SessionConfig controls the on-disk session layout.
type SessionConfig struct {
	// Dir is a template; {device} and {timestamp} are substituted once
	// device info is known. Default: ./sessions/{device}_{timestamp}
	Dir string `json:"dir"`

	CredentialsDB string `json:"credentials_db,omitempty"` // shared across sessions
}

// FlagsConfig overrides the marker-file paths of the control plane.
// Empty values default to the working directory.
type FlagsConfig struct {
	Dir          string `json:"dir,omitempty"`
	Shutdown     string `json:"shutdown,omitempty"`
	Pause        string `json:"pause,omitempty"`
	StepByStep   string `json:"step_by_step,omitempty"`
	ContinueStep string `json:"continue,omitempty"`
}

// HooksConfig toggles optional lifecycle hooks.
type HooksConfig struct {
	TrafficCapture bool   `json:"traffic_capture,omitempty"`
	VideoRecording bool   `json:"video_recording,omitempty"`
	StaticAnalysis bool   `json:"static_analysis,omitempty"`
	AIRunReport    bool   `json:"ai_run_report,omitempty"`
	Annotate       bool   `json:"annotate,omitempty"`
	CaptureCommand string `json:"capture_command,omitempty"` // external pcap tool
}

// ObserverConfig exposes the live event stream.
type ObserverConfig struct {
	Listen string `json:"listen,omitempty"` // e.g. "127.0.0.1:18791"; empty = off
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // OTLP HTTP endpoint
}

// ConfigError reports invalid or missing required configuration.
// It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	if c.App.Package == "" {
		return &ConfigError{Field: "app.package", Reason: "required"}
	}
	switch c.Crawl.Mode {
	case "steps":
		if c.Crawl.MaxSteps <= 0 {
			return &ConfigError{Field: "crawl.max_steps", Reason: "must be positive in steps mode"}
		}
	case "time":
		if c.Crawl.MaxDurationSeconds <= 0 {
			return &ConfigError{Field: "crawl.max_duration_seconds", Reason: "must be positive in time mode"}
		}
	default:
		return &ConfigError{Field: "crawl.mode", Reason: `must be "steps" or "time"`}
	}
	switch strings.ToLower(c.AI.Provider) {
	case "anthropic", "openai", "gemini", "ollama":
	default:
		return &ConfigError{Field: "ai.provider", Reason: "unknown provider " + c.AI.Provider}
	}
	if c.Device.ServerURL == "" {
		return &ConfigError{Field: "device.server_url", Reason: "required"}
	}
	return nil
}

// ProviderFor returns the credential block for the named provider.
func (c *Config) ProviderFor(name string) ProviderConfig {
	switch strings.ToLower(name) {
	case "anthropic":
		return c.Providers.Anthropic
	case "openai":
		return c.Providers.OpenAI
	case "gemini":
		return c.Providers.Gemini
	case "ollama":
		return c.Providers.Ollama
	}
	return ProviderConfig{}
}
