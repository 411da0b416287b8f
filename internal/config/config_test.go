package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Crawl.Mode != "steps" || cfg.Crawl.MaxSteps != 50 {
		t.Errorf("unexpected defaults: mode=%q max_steps=%d", cfg.Crawl.Mode, cfg.Crawl.MaxSteps)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	data := `{
		// target under test
		app: { package: "com.example.shop", activity: ".MainActivity" },
		crawl: { mode: "time", max_duration_seconds: 600 },
	}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Package != "com.example.shop" {
		t.Errorf("app.package = %q", cfg.App.Package)
	}
	if cfg.Crawl.Mode != "time" || cfg.Crawl.MaxDurationSeconds != 600 {
		t.Errorf("crawl = %+v", cfg.Crawl)
	}
	// untouched defaults survive the overlay
	if cfg.Device.ServerURL != "http://127.0.0.1:4723" {
		t.Errorf("device.server_url = %q", cfg.Device.ServerURL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DROIDCRAWL_APP_PACKAGE", "com.env.app")
	t.Setenv("DROIDCRAWL_MAX_CRAWL_STEPS", "7")
	t.Setenv("DROIDCRAWL_ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Package != "com.env.app" {
		t.Errorf("app.package = %q", cfg.App.Package)
	}
	if cfg.Crawl.MaxSteps != 7 {
		t.Errorf("max_steps = %d", cfg.Crawl.MaxSteps)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test" {
		t.Errorf("anthropic key not read from env")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) { c.App.Package = "com.example" }, ""},
		{"missing package", func(c *Config) {}, "app.package"},
		{"bad mode", func(c *Config) {
			c.App.Package = "com.example"
			c.Crawl.Mode = "forever"
		}, "crawl.mode"},
		{"bad provider", func(c *Config) {
			c.App.Package = "com.example"
			c.AI.Provider = "skynet"
		}, "ai.provider"},
		{"time mode needs duration", func(c *Config) {
			c.App.Package = "com.example"
			c.Crawl.Mode = "time"
			c.Crawl.MaxDurationSeconds = 0
		}, "crawl.max_duration_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			ce, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("want *ConfigError, got %v", err)
			}
			if ce.Field != tt.wantErr {
				t.Errorf("field = %q, want %q", ce.Field, tt.wantErr)
			}
		})
	}
}
