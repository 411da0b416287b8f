package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/droidcrawl/droidcrawl/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively create a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			maxSteps := strconv.Itoa(cfg.Crawl.MaxSteps)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("App package").
						Description("e.g. com.example.shop").
						Value(&cfg.App.Package).
						Validate(func(s string) error {
							if s == "" {
								return fmt.Errorf("required")
							}
							return nil
						}),
					huh.NewInput().
						Title("Entry activity").
						Description("e.g. .MainActivity (empty to auto-resolve)").
						Value(&cfg.App.Activity),
					huh.NewInput().
						Title("Appium server URL").
						Value(&cfg.Device.ServerURL),
				),
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("AI provider").
						Options(
							huh.NewOption("Anthropic", "anthropic"),
							huh.NewOption("OpenAI", "openai"),
							huh.NewOption("Gemini", "gemini"),
							huh.NewOption("Ollama (local)", "ollama"),
						).
						Value(&cfg.AI.Provider),
					huh.NewSelect[string]().
						Title("Crawl mode").
						Options(
							huh.NewOption("Fixed number of steps", "steps"),
							huh.NewOption("Fixed duration", "time"),
						).
						Value(&cfg.Crawl.Mode),
					huh.NewInput().
						Title("Max steps").
						Value(&maxSteps).
						Validate(func(s string) error {
							_, err := strconv.Atoi(s)
							return err
						}),
					huh.NewConfirm().
						Title("Send screenshots to the model?").
						Value(&cfg.AI.EnableImageContext),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
			cfg.Crawl.MaxSteps, _ = strconv.Atoi(maxSteps)

			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists; move it away first", path)
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}

			fmt.Printf("wrote %s\n", path)
			fmt.Println("set your provider key in the environment, e.g. DROIDCRAWL_ANTHROPIC_API_KEY")
			return nil
		},
	}
}
