package crawler

import (
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/droidcrawl/droidcrawl/internal/media"
	"github.com/droidcrawl/droidcrawl/internal/session"
)

// LifecycleHooks run around the crawl: traffic capture and video
// recording bracket the run, analysis and annotation run at the end.
// All hooks are best-effort; a failing hook never fails the run.
type LifecycleHooks interface {
	OnRunStart(ctx context.Context, paths session.Paths)
	OnRunEnd(ctx context.Context, paths session.Paths)
}

// NoopHooks disables all lifecycle integration.
type NoopHooks struct{}

func (NoopHooks) OnRunStart(context.Context, session.Paths) {}
func (NoopHooks) OnRunEnd(context.Context, session.Paths)   {}

// CommandHooks shells out to external tools. Command templates expand
// {session}, {pcap}, {video}, {reports} placeholders.
type CommandHooks struct {
	StartCommands []string
	EndCommands   []string
}

func (h CommandHooks) OnRunStart(ctx context.Context, paths session.Paths) {
	runAll(ctx, h.StartCommands, paths)
}

func (h CommandHooks) OnRunEnd(ctx context.Context, paths session.Paths) {
	runAll(ctx, h.EndCommands, paths)
}

func runAll(ctx context.Context, commands []string, paths session.Paths) {
	for _, tmpl := range commands {
		line := strings.NewReplacer(
			"{session}", paths.Root,
			"{pcap}", paths.PCAP(),
			"{video}", paths.Video(),
			"{reports}", paths.Reports(),
		).Replace(tmpl)
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			slog.Warn("hooks: command failed", "command", parts[0], "error", err,
				"output", strings.TrimSpace(string(out)))
		} else {
			slog.Info("hooks: command done", "command", parts[0])
		}
	}
}

// AnnotationPass draws the executed actions of each step onto copies
// of the step screenshots. Runs once, at the end of the run.
type AnnotationPass struct {
	paths session.Paths
}

func NewAnnotationPass(paths session.Paths) *AnnotationPass {
	return &AnnotationPass{paths: paths}
}

// stepMarkers is recorded per step during the run.
type stepMarkers struct {
	screenshotPath string
	markers        []media.Marker
}

// Annotate renders all recorded steps.
func (p *AnnotationPass) Annotate(steps []stepMarkers) {
	for _, s := range steps {
		if len(s.markers) == 0 || s.screenshotPath == "" {
			continue
		}
		dst := filepath.Join(p.paths.AnnotatedScreenshots(), "annotated_"+filepath.Base(s.screenshotPath))
		if err := media.Annotate(s.screenshotPath, dst, s.markers); err != nil {
			slog.Debug("hooks: annotate failed", "source", s.screenshotPath, "error", err)
		}
	}
}

// markersFor converts an executed batch into drawable markers.
func markersFor(actions []Action, successes []bool) []media.Marker {
	var out []media.Marker
	for i, a := range actions {
		if i >= len(successes) || !successes[i] {
			continue
		}
		if a.Box == nil {
			continue
		}
		out = append(out, media.Marker{
			Bounds: [4]int{a.Box.TopLeft[0], a.Box.TopLeft[1], a.Box.BottomRight[0], a.Box.BottomRight[1]},
			Label:  i + 1,
		})
	}
	return out
}
