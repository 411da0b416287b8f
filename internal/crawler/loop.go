package crawler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/droidcrawl/droidcrawl/internal/bus"
	"github.com/droidcrawl/droidcrawl/internal/config"
	"github.com/droidcrawl/droidcrawl/internal/device"
	"github.com/droidcrawl/droidcrawl/internal/flags"
	"github.com/droidcrawl/droidcrawl/internal/media"
	"github.com/droidcrawl/droidcrawl/internal/providers"
	"github.com/droidcrawl/droidcrawl/internal/screen"
	"github.com/droidcrawl/droidcrawl/internal/session"
	"github.com/droidcrawl/droidcrawl/internal/store"
	"github.com/droidcrawl/droidcrawl/internal/telemetry"
	"github.com/droidcrawl/droidcrawl/pkg/protocol"
)

// Device is the full device surface the loop drives.
type Device interface {
	DeviceDriver
	InitializeSession(ctx context.Context) error
	ValidateSession(ctx context.Context) error
	CurrentPackage(ctx context.Context) string
	LaunchApp(ctx context.Context) error
	TerminateApp(ctx context.Context, pkg string) error
	Close(ctx context.Context)
}

// Deps are the collaborators of one crawl loop, constructed once
// during initialization. Tests inject fakes.
type Deps struct {
	Config   *config.Config
	Provider providers.Provider
	Device   Device
	Store    *store.Store
	Creds    *store.CredentialStore
	Screens  *screen.Manager
	Flags    *flags.Controller
	Bus      bus.EventPublisher
	Hooks    LifecycleHooks
	Paths    session.Paths
	AILog    *AILog
	Stuck    Thresholds
}

// Loop is the orchestrator: a single-threaded state machine that
// senses, decides, acts, and observes until a cap or a control signal
// stops it.
type Loop struct {
	cfg      *config.Config
	provider providers.Provider
	device   Device
	store    *store.Store
	creds    *store.CredentialStore
	screens  *screen.Manager
	flags    *flags.Controller
	bus      bus.EventPublisher
	hooks    LifecycleHooks
	paths    session.Paths
	ailog    *AILog

	contextB *ContextBuilder
	stuck    *StuckDetector
	prompts  *PromptBuilder
	executor *Executor

	runID     int64
	stepCount int
	stats     store.RunStats

	lastFeedback string
	// lastLandingHash dedupes visit counting: the sense capture of a
	// step counts a visit only when it differs from the screen the
	// previous step already landed on and counted.
	lastLandingHash string
	prevStuck       bool
	loginCounted    bool
	annotated       []stepMarkers
}

// NewLoop wires a loop from constructed collaborators.
func NewLoop(d Deps) *Loop {
	cfg := d.Config
	if d.Hooks == nil {
		d.Hooks = NoopHooks{}
	}
	if d.AILog == nil {
		d.AILog = &AILog{}
	}
	l := &Loop{
		cfg:      cfg,
		provider: d.Provider,
		device:   d.Device,
		store:    d.Store,
		creds:    d.Creds,
		screens:  d.Screens,
		flags:    d.Flags,
		bus:      d.Bus,
		hooks:    d.Hooks,
		paths:    d.Paths,
		ailog:    d.AILog,
	}
	l.contextB = NewContextBuilder(d.Store, cfg.App.Package, cfg.App.AllowedExternalPackages)
	l.stuck = NewStuckDetector(d.Stuck)
	l.prompts = NewPromptBuilder("", cfg.App.Package, cfg.Crawl.JournalMaxLength, SignupDefaults{
		Email:    cfg.Signup.Email,
		Password: cfg.Signup.Password,
		Name:     cfg.Signup.Name,
	})
	l.executor = NewExecutor(d.Device,
		time.Duration(cfg.Crawl.WaitBetweenActions*float64(time.Second)),
		cfg.Crawl.StopOnBatchError)
	return l
}

// SessionPaths exposes the resolved session layout for the driver
// (log files, report output).
func (l *Loop) SessionPaths() session.Paths { return l.paths }

func (l *Loop) publish(name string, payload interface{}) {
	if l.bus == nil {
		return
	}
	l.bus.Broadcast(bus.Event{Name: name, RunID: l.runID, Step: l.stepCount, Payload: payload})
}

// stepOutcome tells Run what to do after one iteration.
type stepOutcome int

const (
	stepContinue stepOutcome = iota
	stepInterrupted
	stepFatal
)

// Run executes the crawl until a cap, a control signal, or a fatal
// error. It returns the terminal run status and, for FAILED, the cause.
func (l *Loop) Run(ctx context.Context) (status string, err error) {
	l.flags.ClearStale()

	l.runID, err = l.store.GetOrCreateRun(l.cfg.App.Package, l.cfg.App.Activity)
	if err != nil {
		return protocol.StatusFailed, fmt.Errorf("create run: %w", err)
	}
	l.stepCount, err = l.store.MaxStepNumber(l.runID)
	if err != nil {
		return protocol.StatusFailed, fmt.Errorf("resume step count: %w", err)
	}
	l.stats.Provider = l.provider.Name()
	l.stats.Model = l.cfg.AI.Model
	if l.stats.Model == "" {
		l.stats.Model = l.provider.DefaultModel()
	}

	l.publish(protocol.EventRunStarted, protocol.StatusPayload{Status: protocol.StatusRunning})
	slog.Info("crawl: run started",
		"run", l.runID, "app", l.cfg.App.Package,
		"mode", l.cfg.Crawl.Mode, "provider", l.stats.Provider, "model", l.stats.Model)

	if err := l.device.LaunchApp(ctx); err != nil {
		slog.Warn("crawl: initial app launch failed", "error", err)
	}
	l.hooks.OnRunStart(ctx, l.paths)

	started := time.Now()
	status = protocol.StatusCompleted
	var fatal error

	for {
		if l.capReached(started) {
			break
		}
		outcome, stepErr := l.step(ctx)
		if outcome == stepInterrupted {
			status = protocol.StatusInterrupted
			break
		}
		if outcome == stepFatal {
			status = protocol.StatusFailed
			fatal = stepErr
			break
		}
	}

	l.finish(ctx, status, fatal)
	return status, fatal
}

func (l *Loop) capReached(started time.Time) bool {
	switch l.cfg.Crawl.Mode {
	case "time":
		return time.Since(started) >= time.Duration(l.cfg.Crawl.MaxDurationSeconds)*time.Second
	default:
		return l.stepCount >= l.cfg.Crawl.MaxSteps
	}
}

// checkControl honors shutdown and pause. Returns false when the loop
// must stop.
func (l *Loop) checkControl(ctx context.Context) bool {
	if ctx.Err() != nil || l.flags.Exists(flags.Shutdown) {
		return false
	}
	if l.flags.Exists(flags.Pause) {
		slog.Info("crawl: paused")
		if !l.flags.WaitWhilePaused(ctx) {
			return false
		}
		slog.Info("crawl: resumed")
	}
	return true
}

// step runs one sense-decide-act-observe cycle. The step number is
// advanced up front and rolled back if a control signal aborts before
// the step row is persisted.
func (l *Loop) step(ctx context.Context) (stepOutcome, error) {
	if !l.checkControl(ctx) {
		return stepInterrupted, nil
	}

	l.stepCount++
	stepNo := l.stepCount
	ctx, span := telemetry.Tracer().Start(ctx, "crawl.step", trace.WithAttributes(
		attribute.Int64("run.id", l.runID),
		attribute.Int("step", stepNo),
	))
	defer span.End()
	l.publish(protocol.EventStepStarted, protocol.StepStartedPayload{Step: stepNo})
	slog.Info("crawl: step", "step", stepNo)

	if !l.ensureAppContext(ctx) {
		l.stats.ContextLosses++
		l.lastFeedback = "App context check failed"
		l.recordSkippedStep(stepNo, "context check", "app context check failed")
		return l.stepGate(ctx), nil
	}

	candidate, err := l.screens.Capture(ctx, l.runID, stepNo)
	if err != nil {
		if strings.Contains(err.Error(), device.ErrSessionNotFound.Error()) {
			return stepFatal, err
		}
		l.lastFeedback = "Screen capture failed"
		l.recordSkippedStep(stepNo, "screen capture", err.Error())
		return l.stepGate(ctx), nil
	}

	// Screenshot lands on disk immediately so observers see live state.
	if err := l.screens.PersistScreenshot(candidate); err != nil {
		slog.Warn("crawl: persist screenshot failed", "error", err)
	}
	l.publish(protocol.EventScreenshotReady, protocol.ScreenshotPayload{
		Path: candidate.ScreenshotPath, Blocked: candidate.Blocked,
	})

	from, err := l.screens.Record(ctx, candidate, l.runID, stepNo, candidate.CompositeHash != l.lastLandingHash)
	if err != nil {
		return stepFatal, fmt.Errorf("record screen: %w", err)
	}
	if from.WasNew {
		l.publish(protocol.EventScreenNew, protocol.ScreenshotPayload{
			Path: candidate.ScreenshotPath, ScreenID: from.ScreenID,
		})
	}

	journal, err := l.store.GetJournal(l.runID)
	if err != nil {
		slog.Warn("crawl: read journal failed", "error", err)
	}
	stepCtx, err := l.contextB.Build(l.runID, from.ScreenID)
	if err != nil {
		return stepFatal, fmt.Errorf("build context: %w", err)
	}

	isStuck, stuckReason := l.stuck.Evaluate(from.ScreenID, from.VisitCount, stepCtx.RecentSteps, stepCtx.ScreenActions)
	if isStuck {
		// One episode counts once, however many consecutive steps it
		// spans.
		if !l.prevStuck {
			l.stats.StuckDetections++
		}
		l.publish(protocol.EventStuckDetected, protocol.StatusPayload{Error: stuckReason})
		slog.Info("crawl: stuck", "reason", stuckReason, "screen", from.ScreenID)
	}
	l.prevStuck = isStuck

	prompt := l.prompts.Build(PromptInput{
		ScreenBlocked: candidate.Blocked,
		VisitCount:    from.VisitCount,
		LastFeedback:  l.lastFeedback,
		UITree:        candidate.UITree,
		OCRItems:      candidate.OCRItems,
		Stuck:         isStuck,
		StuckReason:   stuckReason,
		Journal:       journal,
		Context:       stepCtx,
		CurrentScreen: from.ScreenID,
		Credential:    l.storedCredential(),
	})

	// Shutdown may have arrived during assembly; abort before the
	// model call and leave the step count untouched.
	if !l.checkControl(ctx) {
		l.stepCount--
		return stepInterrupted, nil
	}

	response, latency, err := l.askModel(ctx, prompt, candidate)
	if err != nil {
		l.stats.LLMRetries++
		l.lastFeedback = "AI decision failed"
		l.recordFailedDecision(stepNo, from.ScreenID, prompt, "", latency, err)
		return l.stepGate(ctx), nil
	}
	l.ailog.Record(stepNo, prompt, response.Text, latency)
	if response.ImageDropped {
		l.stats.ImagesDropped++
	}

	batch, err := ParseBatch(response.Text, candidate.OCRItems)
	if err != nil {
		l.stats.LLMRetries++
		l.lastFeedback = "AI decision failed"
		l.recordFailedDecision(stepNo, from.ScreenID, prompt, response.Text, latency, err)
		return l.stepGate(ctx), nil
	}

	// Journal before execution: a crash mid-action still preserves the
	// model's own narrative.
	if batch.Journal != "" {
		if err := l.store.UpdateJournal(l.runID, batch.Journal); err != nil {
			slog.Warn("crawl: journal write failed", "error", err)
		}
	}
	if batch.SignupCompleted {
		l.captureCredentials()
	}

	if !l.checkControl(ctx) {
		l.stepCount--
		return stepInterrupted, nil
	}

	result := l.executor.ExecuteBatch(ctx, batch.Actions)
	for i, a := range batch.Actions[:result.Executed] {
		l.publish(protocol.EventActionExecuted, protocol.ActionPayload{
			Description: a.Describe(), Success: result.Successes[i],
			Index: i + 1, BatchSize: len(batch.Actions),
		})
	}
	if result.Err != nil && strings.Contains(result.Err.Error(), device.ErrSessionNotFound.Error()) {
		return stepFatal, result.Err
	}
	l.stats.ElementNotFound += result.ElementMisses

	l.settle(ctx)
	to := l.observeLanding(ctx, stepNo)

	l.persistStep(stepNo, from.ScreenID, to, batch, response, prompt, latency, result)
	l.lastFeedback = l.composeFeedback(batch.Actions, result, from.ScreenID, to)
	l.publish(protocol.EventStepFinished, protocol.StepStartedPayload{Step: stepNo})

	l.annotated = append(l.annotated, stepMarkers{
		screenshotPath: candidate.ScreenshotPath,
		markers:        markersFor(batch.Actions, result.Successes),
	})

	return l.stepGate(ctx), nil
}

// ensureAppContext verifies the device is still inside the target app
// (or an allowed package), relaunching once on mismatch.
func (l *Loop) ensureAppContext(ctx context.Context) bool {
	pkg := l.device.CurrentPackage(ctx)
	if l.packageAllowed(pkg) {
		return true
	}
	if pkg == "" {
		l.stats.AppCrashes++
		slog.Warn("crawl: no foreground package, app may have crashed")
	} else {
		slog.Info("crawl: left target app", "package", pkg)
	}
	if err := l.device.LaunchApp(ctx); err != nil {
		slog.Warn("crawl: relaunch failed", "error", err)
		return false
	}
	time.Sleep(time.Duration(l.cfg.Crawl.WaitAfterAction * float64(time.Second)))
	return l.packageAllowed(l.device.CurrentPackage(ctx))
}

func (l *Loop) packageAllowed(pkg string) bool {
	if pkg == l.cfg.App.Package {
		return true
	}
	for _, allowed := range l.cfg.App.AllowedExternalPackages {
		if pkg == allowed {
			return true
		}
	}
	return false
}

// askModel prepares the optional image and calls the provider.
func (l *Loop) askModel(ctx context.Context, prompt string, candidate *screen.Candidate) (*providers.Response, time.Duration, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("provider", l.stats.Provider),
		attribute.String("model", l.stats.Model),
	))
	defer span.End()

	req := providers.Request{Prompt: prompt, Model: l.cfg.AI.Model}
	if l.cfg.AI.EnableImageContext && !candidate.Blocked && len(candidate.Screenshot) > 0 {
		data, mime, err := media.PrepareForModel(candidate.Screenshot)
		if err != nil {
			slog.Warn("crawl: image preprocess failed, sending text only", "error", err)
		} else {
			req.Image = &providers.ImageAttachment{
				MimeType: mime,
				Data:     base64.StdEncoding.EncodeToString(data),
			}
		}
	}

	start := time.Now()
	resp, err := l.provider.GenerateResponse(ctx, req)
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		return nil, latency, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		err = fmt.Errorf("empty model response")
		span.RecordError(err)
		return nil, latency, err
	}
	span.SetAttributes(attribute.Int("tokens.total", resp.Usage.TotalTokens))
	return resp, latency, nil
}

func (l *Loop) storedCredential() *store.Credential {
	if l.creds == nil {
		return nil
	}
	cred, err := l.creds.Get(l.cfg.App.Package)
	if err != nil {
		slog.Debug("crawl: credential lookup failed", "error", err)
		return nil
	}
	// Serving stored credentials counts as one login attempt per run.
	if cred != nil && !l.loginCounted {
		l.loginCounted = true
		if err := l.creds.IncrementLoginCount(cred.Package); err != nil {
			slog.Debug("crawl: login count update failed", "error", err)
		}
	}
	return cred
}

// captureCredentials persists the configured test identity once the
// model reports a completed signup.
func (l *Loop) captureCredentials() {
	if l.creds == nil {
		return
	}
	err := l.creds.Store(store.Credential{
		Package:         l.cfg.App.Package,
		Email:           l.cfg.Signup.Email,
		Password:        l.cfg.Signup.Password,
		Name:            l.cfg.Signup.Name,
		SignupCompleted: true,
	})
	if err != nil {
		slog.Warn("crawl: credential save failed", "error", err)
		return
	}
	slog.Info("crawl: signup completed, credentials stored", "app", l.cfg.App.Package)
}

func (l *Loop) settle(ctx context.Context) {
	d := time.Duration(l.cfg.Crawl.WaitAfterAction * float64(time.Second))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// observeLanding captures the post-action state and counts the visit.
// Returns nil when the landing is unclear.
func (l *Loop) observeLanding(ctx context.Context, stepNo int) *int64 {
	candidate, err := l.screens.Capture(ctx, l.runID, stepNo)
	if err != nil {
		slog.Warn("crawl: landing capture failed", "error", err)
		return nil
	}
	if err := l.screens.PersistScreenshot(candidate); err != nil {
		slog.Debug("crawl: landing screenshot persist failed", "error", err)
	}
	rec, err := l.screens.Record(ctx, candidate, l.runID, stepNo, true)
	if err != nil {
		slog.Warn("crawl: landing record failed", "error", err)
		return nil
	}
	l.lastLandingHash = candidate.CompositeHash
	if rec.WasNew {
		l.publish(protocol.EventScreenNew, protocol.ScreenshotPayload{
			Path: candidate.ScreenshotPath, ScreenID: rec.ScreenID,
		})
	}
	return &rec.ScreenID
}

func (l *Loop) persistStep(stepNo int, from int64, to *int64, batch *Batch, resp *providers.Response, prompt string, latency time.Duration, result BatchResult) {
	desc := fmt.Sprintf("Batch of %d actions", len(batch.Actions))
	if len(batch.Actions) == 1 {
		desc = batch.Actions[0].Describe()
	}
	var tokens *int64
	if resp.Usage.TotalTokens > 0 {
		v := int64(resp.Usage.TotalTokens)
		tokens = &v
	}
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	} else if !result.AllSucceeded() {
		errMsg = fmt.Sprintf("%d of %d actions failed", len(batch.Actions)-result.SuccessCount(), len(batch.Actions))
	}

	err := l.store.InsertStep(store.StepInsert{
		RunID:         l.runID,
		StepNumber:    stepNo,
		FromScreenID:  from,
		ToScreenID:    to,
		ActionDesc:    desc,
		LLMRaw:        resp.Text,
		MappedAction:  batch.MarshalRaw(),
		Success:       result.AllSucceeded(),
		ErrorMessage:  errMsg,
		LLMResponseMS: latency.Milliseconds(),
		TotalTokens:   tokens,
		LLMPrompt:     prompt,
	})
	if err != nil {
		slog.Error("crawl: persist step failed", "step", stepNo, "error", err)
	}
}

// recordSkippedStep keeps step numbers dense when a step is skipped
// before any decision was made.
func (l *Loop) recordSkippedStep(stepNo int, phase, reason string) {
	err := l.store.InsertStep(store.StepInsert{
		RunID:        l.runID,
		StepNumber:   stepNo,
		FromScreenID: 0,
		ActionDesc:   "skipped: " + phase,
		Success:      false,
		ErrorMessage: reason,
	})
	if err != nil {
		slog.Error("crawl: persist skipped step failed", "step", stepNo, "error", err)
	}
}

func (l *Loop) recordFailedDecision(stepNo int, from int64, prompt, rawResponse string, latency time.Duration, cause error) {
	slog.Warn("crawl: decision failed", "step", stepNo, "error", cause)
	err := l.store.InsertStep(store.StepInsert{
		RunID:         l.runID,
		StepNumber:    stepNo,
		FromScreenID:  from,
		ActionDesc:    "AI decision failed",
		LLMRaw:        rawResponse,
		Success:       false,
		ErrorMessage:  cause.Error(),
		LLMResponseMS: latency.Milliseconds(),
		LLMPrompt:     prompt,
	})
	if err != nil {
		slog.Error("crawl: persist failed decision", "step", stepNo, "error", err)
	}
}

// composeFeedback builds the outcome line the next prompt carries.
func (l *Loop) composeFeedback(actions []Action, result BatchResult, from int64, to *int64) string {
	navigated := to != nil && *to != from
	n := len(actions)

	if n > 1 {
		line := fmt.Sprintf("Batch of %d actions executed (%d/%d)", n, result.SuccessCount(), n)
		if navigated {
			return fmt.Sprintf("%s → NAVIGATED to #%d", line, *to)
		}
		return fmt.Sprintf("%s → STAYED on same screen #%d", line, from)
	}

	desc := actions[0].Describe()
	if !result.AllSucceeded() {
		return fmt.Sprintf("Action '%s' FAILED to execute", desc)
	}
	if navigated {
		return fmt.Sprintf("Action '%s' executed → NAVIGATED to new screen #%d", desc, *to)
	}
	return fmt.Sprintf("Action '%s' executed → STAYED on same screen #%d (no effect)", desc, from)
}

// stepGate blocks on the continue flag when step-by-step mode is on.
func (l *Loop) stepGate(ctx context.Context) stepOutcome {
	if !l.flags.Exists(flags.StepByStep) {
		return stepContinue
	}
	slog.Info("crawl: step gate, waiting for continue flag")
	if !l.flags.WaitContinue(ctx) {
		return stepInterrupted
	}
	return stepContinue
}

func (l *Loop) finish(ctx context.Context, status string, cause error) {
	slog.Info("crawl: finishing", "status", status, "steps", l.stepCount)

	l.hooks.OnRunEnd(ctx, l.paths)
	if l.cfg.Hooks.Annotate {
		NewAnnotationPass(l.paths).Annotate(l.annotated)
	}

	if err := l.store.UpdateRunStatus(l.runID, status); err != nil {
		slog.Error("crawl: update run status failed", "error", err)
	}
	if stats, err := json.Marshal(l.stats); err == nil {
		if err := l.store.UpdateRunMeta(l.runID, string(stats)); err != nil {
			slog.Error("crawl: update run meta failed", "error", err)
		}
	}

	payload := protocol.StatusPayload{Status: status}
	if cause != nil {
		payload.Error = cause.Error()
	}
	l.publish(protocol.EventRunFinished, payload)

	if err := l.device.TerminateApp(ctx, l.cfg.App.Package); err != nil {
		slog.Debug("crawl: terminate app failed", "error", err)
	}
	l.device.Close(ctx)
	l.ailog.Close()
	if l.creds != nil {
		l.creds.Close()
	}
	l.store.Close()
}
