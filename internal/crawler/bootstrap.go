package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/droidcrawl/droidcrawl/internal/bus"
	"github.com/droidcrawl/droidcrawl/internal/config"
	"github.com/droidcrawl/droidcrawl/internal/device"
	"github.com/droidcrawl/droidcrawl/internal/flags"
	"github.com/droidcrawl/droidcrawl/internal/providers"
	"github.com/droidcrawl/droidcrawl/internal/screen"
	"github.com/droidcrawl/droidcrawl/internal/session"
	"github.com/droidcrawl/droidcrawl/internal/store"
)

// Setup performs run initialization: model adapter, device session,
// session directory layout, stores, and collaborators. The returned
// loop owns the stores and the device session; Run closes them.
func Setup(ctx context.Context, cfg *config.Config, eventBus bus.EventPublisher) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := providers.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("model adapter: %w", err)
	}

	dev := device.NewClient(device.Config{
		ServerURL:      cfg.Device.ServerURL,
		DeviceID:       cfg.Device.DeviceID,
		AppPackage:     cfg.App.Package,
		AppActivity:    cfg.App.Activity,
		ImplicitWaitMS: cfg.Device.ImplicitWaitMS,
		RequestTimeout: time.Duration(cfg.Device.RequestTimeout) * time.Second,
		MaxRetries:     cfg.Device.MaxRetries,
	})
	if err := dev.InitializeSession(ctx); err != nil {
		return nil, err
	}

	// Paths resolve only after device info is known.
	paths := session.Resolve(cfg.Session.Dir, dev.DeviceID(), time.Now())
	if err := paths.EnsureLayout(); err != nil {
		dev.Close(ctx)
		return nil, err
	}

	st, err := store.Open(paths.DatabaseFile())
	if err != nil {
		dev.Close(ctx)
		return nil, fmt.Errorf("open run store: %w", err)
	}

	credPath := cfg.Session.CredentialsDB
	if credPath == "" {
		credPath = "credentials.db"
	}
	creds, err := store.OpenCredentials(credPath)
	if err != nil {
		st.Close()
		dev.Close(ctx)
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	var ocr screen.OCREngine = screen.NoopOCR{}
	if cfg.AI.OCREnabled {
		ocr = screen.CommandOCR{Command: "droidcrawl-ocr"}
	}
	screens := screen.NewManager(dev, st, ocr, paths, cfg.Crawl.VisualSimilarityThreshold)

	loop := NewLoop(Deps{
		Config:   cfg,
		Provider: provider,
		Device:   dev,
		Store:    st,
		Creds:    creds,
		Screens:  screens,
		Flags:    flags.New(flags.Options{
			Dir:          cfg.Flags.Dir,
			Shutdown:     cfg.Flags.Shutdown,
			Pause:        cfg.Flags.Pause,
			StepByStep:   cfg.Flags.StepByStep,
			ContinueStep: cfg.Flags.ContinueStep,
		}),
		Bus:   eventBus,
		Hooks: hooksFromConfig(cfg, paths),
		Paths: paths,
		AILog: OpenAILog(paths.AILog()),
		Stuck: DefaultThresholds(),
	})
	return loop, nil
}

// hooksFromConfig assembles the external-tool hooks the config asks
// for. The capture command template is the only configurable command;
// the rest are fixed tool names expected on PATH.
func hooksFromConfig(cfg *config.Config, paths session.Paths) LifecycleHooks {
	var h CommandHooks
	if cfg.Hooks.TrafficCapture && cfg.Hooks.CaptureCommand != "" {
		h.StartCommands = append(h.StartCommands, cfg.Hooks.CaptureCommand)
	}
	if cfg.Hooks.VideoRecording {
		h.StartCommands = append(h.StartCommands, "droidcrawl-record start {video}")
		h.EndCommands = append(h.EndCommands, "droidcrawl-record stop {video}")
	}
	if cfg.Hooks.StaticAnalysis {
		h.EndCommands = append(h.EndCommands, "droidcrawl-mobsf {session} {reports}")
	}
	if len(h.StartCommands) == 0 && len(h.EndCommands) == 0 {
		return NoopHooks{}
	}
	return h
}
