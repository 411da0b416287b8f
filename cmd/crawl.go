package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/droidcrawl/droidcrawl/internal/bus"
	"github.com/droidcrawl/droidcrawl/internal/crawler"
	"github.com/droidcrawl/droidcrawl/internal/flags"
	"github.com/droidcrawl/droidcrawl/internal/observer"
	"github.com/droidcrawl/droidcrawl/internal/telemetry"
	"github.com/droidcrawl/droidcrawl/pkg/protocol"
)

// runCrawl is the root command: one full crawl of the configured app.
func runCrawl(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	eventBus := bus.NewMessageBus(256)
	defer eventBus.Close()

	// Log lines ride the bus too, so IPC and WebSocket observers see
	// them without tailing crawler.log.
	base := slog.Default().Handler()
	slog.SetDefault(slog.New(teeHandler{handlers: []slog.Handler{
		base,
		bus.NewLogHandler(eventBus, slog.LevelInfo),
	}}))
	defer slog.SetDefault(slog.New(base))

	if ipcMode {
		attachIPCWriter(eventBus)
	}
	if cfg.Observer.Listen != "" {
		obs := observer.NewServer(cfg.Observer.Listen, eventBus)
		if err := obs.Start(); err != nil {
			return err
		}
		defer obs.Stop(context.Background())
	}

	loop, err := crawler.Setup(ctx, cfg, eventBus)
	if err != nil {
		return err
	}
	defer attachSessionLog(loop.SessionPaths().CrawlerLog())()

	// Signals translate into the file-flag control plane so the loop
	// stops at its next suspension point.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-ctx.Done():
		case s := <-sigCh:
			slog.Info("signal received, requesting shutdown", "signal", s)
			flags.New(flags.Options{
				Dir:      cfg.Flags.Dir,
				Shutdown: cfg.Flags.Shutdown,
			}).Create(flags.Shutdown)
			cancel()
		}
	}()

	status, runErr := loop.Run(ctx)
	slog.Info("crawl finished", "status", status, "session", loop.SessionPaths().Root)

	switch status {
	case protocol.StatusInterrupted:
		return exitCodeError{code: protocol.ExitInterrupted}
	case protocol.StatusFailed:
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("run failed")
	}
	return nil
}

// attachIPCWriter mirrors every bus event as a JSON_IPC line on
// stdout for a supervising process.
func attachIPCWriter(eventBus *bus.MessageBus) {
	id := "ipc-" + uuid.NewString()
	eventBus.Subscribe(id, func(event bus.Event) {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return
		}
		line, err := json.Marshal(protocol.IPCLine{
			Event:   event.Name,
			RunID:   event.RunID,
			Step:    event.Step,
			Payload: payload,
		})
		if err != nil {
			return
		}
		fmt.Println(protocol.IPCPrefix + string(line))
	})
}
