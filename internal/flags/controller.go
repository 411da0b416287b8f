// Package flags implements the marker-file control plane. Supervising
// processes (CLI, GUI, CI harness) steer the crawl loop by creating or
// removing well-known files; no IPC channel is required.
package flags

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind names one control signal.
type Kind int

const (
	// Shutdown requests a clean exit at the next check. Never
	// auto-removed once observed; a new run clears it at start.
	Shutdown Kind = iota
	// Pause holds the loop until the flag disappears.
	Pause
	// StepByStep gates the loop after every step.
	StepByStep
	// Continue releases one step-gate block and is consumed.
	Continue
)

// Default marker-file names, created under the controller directory.
const (
	shutdownFile   = "crawler_shutdown.flag"
	pauseFile      = "crawler_pause.flag"
	stepByStepFile = "crawler_step_by_step.flag"
	continueFile   = "crawler_continue.flag"
)

const pollInterval = 500 * time.Millisecond

// Controller watches and mutates the four marker files.
// All operations are advisory: filesystem errors on checks read as
// "absent", errors on create/remove are logged and swallowed.
type Controller struct {
	paths map[Kind]string
}

// Options overrides individual flag paths. Empty fields default to
// Dir (or the working directory) plus the standard file name.
type Options struct {
	Dir          string
	Shutdown     string
	Pause        string
	StepByStep   string
	ContinueStep string
}

// New creates a controller from the given options.
func New(opts Options) *Controller {
	pick := func(explicit, name string) string {
		if explicit != "" {
			return explicit
		}
		return filepath.Join(opts.Dir, name)
	}
	return &Controller{paths: map[Kind]string{
		Shutdown:   pick(opts.Shutdown, shutdownFile),
		Pause:      pick(opts.Pause, pauseFile),
		StepByStep: pick(opts.StepByStep, stepByStepFile),
		Continue:   pick(opts.ContinueStep, continueFile),
	}}
}

// Path returns the file backing a signal.
func (c *Controller) Path(k Kind) string { return c.paths[k] }

// Exists reports whether the signal is raised. Errors read as absent.
func (c *Controller) Exists(k Kind) bool {
	_, err := os.Stat(c.paths[k])
	return err == nil
}

// Create raises the signal.
func (c *Controller) Create(k Kind) {
	f, err := os.OpenFile(c.paths[k], os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Warn("flags: create failed", "path", c.paths[k], "error", err)
		return
	}
	f.Close()
}

// Remove lowers the signal. Missing files are not an error.
func (c *Controller) Remove(k Kind) {
	if err := os.Remove(c.paths[k]); err != nil && !os.IsNotExist(err) {
		slog.Warn("flags: remove failed", "path", c.paths[k], "error", err)
	}
}

// ClearStale removes leftover signals from a previous run. Called once
// at run start so an old shutdown flag cannot kill the new run.
func (c *Controller) ClearStale() {
	c.Remove(Shutdown)
	c.Remove(Pause)
	c.Remove(Continue)
}

// WaitWhilePaused blocks while the pause flag is present, polling
// briefly. Returns false if shutdown was raised or the context ended.
func (c *Controller) WaitWhilePaused(ctx context.Context) bool {
	for c.Exists(Pause) {
		if c.Exists(Shutdown) || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
	return ctx.Err() == nil && !c.Exists(Shutdown)
}

// WaitContinue blocks until the continue flag appears, then consumes
// it. Uses an fsnotify watch on the flag directory with a polling
// fallback; shutdown and context cancellation abort the wait.
// Returns false when aborted.
func (c *Controller) WaitContinue(ctx context.Context) bool {
	target := c.paths[Continue]

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(filepath.Dir(target)); werr == nil {
			events = watcher.Events
		} else {
			slog.Debug("flags: watch unavailable, polling", "error", werr)
		}
		defer watcher.Close()
	}

	for {
		if c.Exists(Continue) {
			c.Remove(Continue)
			return true
		}
		if c.Exists(Shutdown) || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				events = nil
			}
			_ = ev // any event re-checks; cheap and race-free
		case <-time.After(pollInterval):
		}
	}
}
