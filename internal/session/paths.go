// Package session resolves and lays out the on-disk directory tree for
// one crawl session.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Paths addresses every artifact directory of a session.
type Paths struct {
	Root string
}

// Resolve expands the configured directory template. Supported
// placeholders: {device} and {timestamp}.
func Resolve(template, deviceID string, now time.Time) Paths {
	device := strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(deviceID)
	if device == "" {
		device = "device"
	}
	root := strings.NewReplacer(
		"{device}", device,
		"{timestamp}", now.Format("20060102_150405"),
	).Replace(template)
	return Paths{Root: root}
}

func (p Paths) Screenshots() string          { return filepath.Join(p.Root, "screenshots") }
func (p Paths) AnnotatedScreenshots() string { return filepath.Join(p.Root, "annotated_screenshots") }
func (p Paths) XML() string                  { return filepath.Join(p.Root, "xml") }
func (p Paths) OCR() string                  { return filepath.Join(p.Root, "ocr") }
func (p Paths) Database() string             { return filepath.Join(p.Root, "database") }
func (p Paths) Logs() string                 { return filepath.Join(p.Root, "logs") }
func (p Paths) Reports() string              { return filepath.Join(p.Root, "reports") }
func (p Paths) Video() string                { return filepath.Join(p.Root, "video") }
func (p Paths) PCAP() string                 { return filepath.Join(p.Root, "pcap") }

// DatabaseFile is the per-session run database.
func (p Paths) DatabaseFile() string { return filepath.Join(p.Database(), "run.db") }

// CrawlerLog is the structured session log file.
func (p Paths) CrawlerLog() string { return filepath.Join(p.Logs(), "crawler.log") }

// AILog is the prompt/response transcript.
func (p Paths) AILog() string { return filepath.Join(p.Logs(), "ai_interaction.log") }

// ScreenshotFile names a step capture.
func (p Paths) ScreenshotFile(runID int64, step int, hash string) string {
	return filepath.Join(p.Screenshots(), fmt.Sprintf("screen_run%d_step%d_%s.png", runID, step, hash))
}

// AnnotatedFile names the annotated variant of a step capture.
func (p Paths) AnnotatedFile(runID int64, step int, hash string) string {
	return filepath.Join(p.AnnotatedScreenshots(),
		fmt.Sprintf("annotated_screen_run%d_step%d_%s.png", runID, step, hash))
}

// XMLFile names a UI-tree dump, keyed by screen hash.
func (p Paths) XMLFile(hash string) string {
	return filepath.Join(p.XML(), hash+".xml")
}

// OCRFile names an OCR cache, keyed by screen hash.
func (p Paths) OCRFile(hash string) string {
	return filepath.Join(p.OCR(), hash+".json")
}

// EnsureLayout creates the full directory tree.
func (p Paths) EnsureLayout() error {
	dirs := []string{
		p.Screenshots(), p.AnnotatedScreenshots(), p.XML(), p.OCR(),
		p.Database(), p.Logs(), p.Reports(), p.Video(), p.PCAP(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create session dir %s: %w", d, err)
		}
	}
	return nil
}
