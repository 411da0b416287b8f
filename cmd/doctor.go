package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/droidcrawl/droidcrawl/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup: config, Appium server, provider credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			check := func(name string, err error) {
				if err != nil {
					failed++
					fmt.Printf("✗ %s: %v\n", name, err)
					return
				}
				fmt.Printf("✓ %s\n", name)
			}

			cfg, err := loadConfig()
			check("config loads", err)
			if err != nil {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			check("config valid", cfg.Validate())
			check("automation server reachable", checkAppium(cfg.Device.ServerURL))
			check("provider credentials", checkProviderKey(cfg))
			check("flag directory writable", checkWritable(cfg.Flags.Dir))

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Println("all checks passed")
			return nil
		},
	}
}

func checkAppium(serverURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(serverURL, "/") + "/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		Value struct {
			Ready bool `json:"ready"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	if !body.Value.Ready {
		return fmt.Errorf("server not ready")
	}
	return nil
}

func checkProviderKey(cfg *config.Config) error {
	provider := strings.ToLower(cfg.AI.Provider)
	if provider == "ollama" {
		return nil // local, no key
	}
	if cfg.ProviderFor(provider).APIKey == "" {
		return fmt.Errorf("no API key in DROIDCRAWL_%s_API_KEY", strings.ToUpper(provider))
	}
	return nil
}

func checkWritable(dir string) error {
	if dir == "" {
		dir = "."
	}
	probe := filepath.Join(dir, ".droidcrawl-doctor")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}
