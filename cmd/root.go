// Package cmd implements the droidcrawl CLI.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/droidcrawl/droidcrawl/internal/config"
	"github.com/droidcrawl/droidcrawl/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/droidcrawl/droidcrawl/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
	ipcMode bool
)

var rootCmd = &cobra.Command{
	Use:   "droidcrawl",
	Short: "AI-driven mobile app exploration",
	Long:  "droidcrawl drives a mobile app through WebDriver/Appium, asks an LLM which action to take at every screen, and persists the full exploration trace for testing and privacy analysis.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd.Context())
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $DROIDCRAWL_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&ipcMode, "ipc", false, "emit JSON_IPC lines on stdout for a supervising process")

	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("droidcrawl %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("DROIDCRAWL_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// exitCodeError carries a specific process exit code through the
// cobra error path, so deferred cleanup in the command still runs
// before the process exits.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	var ec exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return protocol.ExitError
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		if code == protocol.ExitError {
			slog.Error("droidcrawl failed", "error", err)
		}
		os.Exit(code)
	}
}
