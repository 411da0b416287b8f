package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Crawl: CrawlConfig{
			Mode:                      "steps",
			MaxSteps:                  50,
			MaxDurationSeconds:        1800,
			WaitAfterAction:           2.0,
			WaitBetweenActions:        1.0,
			StopOnBatchError:          true,
			JournalMaxLength:          3000,
			VisualSimilarityThreshold: 0.95,
		},
		Device: DeviceConfig{
			ServerURL:      "http://127.0.0.1:4723",
			ImplicitWaitMS: 3000,
			RequestTimeout: 60,
			MaxRetries:     3,
		},
		AI: AIConfig{
			Provider:           "anthropic",
			EnableImageContext: true,
			OCREnabled:         true,
		},
		Signup: SignupConfig{
			Email:    "test@email.com",
			Password: "Test123!",
			Name:     "Test User",
		},
		Session: SessionConfig{
			Dir: "sessions/{device}_{timestamp}",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults (env overrides still apply).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	// Provider secrets come from env only.
	envStr("DROIDCRAWL_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("DROIDCRAWL_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("DROIDCRAWL_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)

	envStr("DROIDCRAWL_APP_PACKAGE", &c.App.Package)
	envStr("DROIDCRAWL_APP_ACTIVITY", &c.App.Activity)
	envStr("DROIDCRAWL_CRAWL_MODE", &c.Crawl.Mode)
	envInt("DROIDCRAWL_MAX_CRAWL_STEPS", &c.Crawl.MaxSteps)
	envInt("DROIDCRAWL_MAX_CRAWL_DURATION_SECONDS", &c.Crawl.MaxDurationSeconds)
	envStr("DROIDCRAWL_AI_PROVIDER", &c.AI.Provider)
	envStr("DROIDCRAWL_DEFAULT_MODEL", &c.AI.Model)
	envBool("DROIDCRAWL_ENABLE_IMAGE_CONTEXT", &c.AI.EnableImageContext)
	envStr("DROIDCRAWL_DEVICE_SERVER_URL", &c.Device.ServerURL)
	envStr("DROIDCRAWL_DEVICE_ID", &c.Device.DeviceID)
	envStr("DROIDCRAWL_TEST_EMAIL", &c.Signup.Email)
	envStr("DROIDCRAWL_TEST_PASSWORD", &c.Signup.Password)
	envStr("DROIDCRAWL_TEST_NAME", &c.Signup.Name)
	envStr("DROIDCRAWL_SESSION_DIR", &c.Session.Dir)
	envBool("DROIDCRAWL_ENABLE_TRAFFIC_CAPTURE", &c.Hooks.TrafficCapture)
	envBool("DROIDCRAWL_ENABLE_VIDEO_RECORDING", &c.Hooks.VideoRecording)
	envBool("DROIDCRAWL_ENABLE_MOBSF_ANALYSIS", &c.Hooks.StaticAnalysis)
	envBool("DROIDCRAWL_ENABLE_AI_RUN_REPORT", &c.Hooks.AIRunReport)
	envStr("DROIDCRAWL_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
}
