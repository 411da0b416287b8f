package screen

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/droidcrawl/droidcrawl/internal/media"
	"github.com/droidcrawl/droidcrawl/internal/session"
	"github.com/droidcrawl/droidcrawl/internal/store"
)

// DeviceSource is the slice of the device client the manager needs.
type DeviceSource interface {
	Screenshot(ctx context.Context) (data []byte, blocked bool, err error)
	UITree(ctx context.Context) (string, error)
	CurrentActivity(ctx context.Context) string
}

// Candidate is an observed-but-not-yet-recorded UI state. Paths are
// proposed; nothing is on disk until ProcessAndRecordState.
type Candidate struct {
	CompositeHash string
	Activity      string
	UITree        string

	Screenshot []byte // nil when Blocked
	Blocked    bool
	Visual     VisualHash

	OCRItems []OCRItem

	ScreenshotPath string
	TreePath       string
	OCRPath        string
}

// Recorded is the durable outcome of processing a candidate.
type Recorded struct {
	ScreenID   int64
	WasNew     bool
	VisitCount int
}

// Manager captures candidate states and resolves them to stable screen
// rows.
type Manager struct {
	device DeviceSource
	store  *store.Store
	ocr    OCREngine
	paths  session.Paths

	// similarityThreshold flags visually near-identical screens whose
	// tree hashes diverged. Diagnostic only.
	similarityThreshold float64

	visuals map[string]VisualHash // composite hash -> visual hash
}

// NewManager wires a manager. ocr may be nil to disable recognition.
func NewManager(device DeviceSource, st *store.Store, ocr OCREngine, paths session.Paths, similarityThreshold float64) *Manager {
	if ocr == nil {
		ocr = NoopOCR{}
	}
	return &Manager{
		device:              device,
		store:               st,
		ocr:                 ocr,
		paths:               paths,
		similarityThreshold: similarityThreshold,
		visuals:             map[string]VisualHash{},
	}
}

// Capture senses the current UI state and computes its identity. A
// blocked screenshot is tolerated: the hash comes from the tree alone
// and Blocked is set for the prompt.
func (m *Manager) Capture(ctx context.Context, runID int64, step int) (*Candidate, error) {
	tree, err := m.device.UITree(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture ui tree: %w", err)
	}
	activity := m.device.CurrentActivity(ctx)

	shot, blocked, err := m.device.Screenshot(ctx)
	if err != nil {
		slog.Warn("screen: screenshot failed, continuing with tree only", "error", err)
		blocked = true
		shot = nil
	}

	c := &Candidate{
		CompositeHash: Fingerprint(tree, activity),
		Activity:      activity,
		UITree:        tree,
		Screenshot:    shot,
		Blocked:       blocked,
	}
	if !blocked {
		c.Visual = HashImage(shot)
	}
	c.ScreenshotPath = m.paths.ScreenshotFile(runID, step, c.CompositeHash)
	c.TreePath = m.paths.XMLFile(c.CompositeHash)
	c.OCRPath = m.paths.OCRFile(c.CompositeHash)

	m.attachOCR(ctx, c)
	return c, nil
}

// attachOCR fills OCRItems from the cache or, on a cache miss with a
// real screenshot on disk, from the engine. Recognition failures only
// cost the OCR block in the prompt.
func (m *Manager) attachOCR(ctx context.Context, c *Candidate) {
	if items := LoadOCRCache(c.OCRPath); items != nil {
		c.OCRItems = items
		return
	}
	if c.Blocked {
		return
	}
	if _, err := os.Stat(c.ScreenshotPath); err != nil {
		return // first sight of this screen; recognized after persist
	}
	items, err := m.ocr.Recognize(ctx, c.ScreenshotPath)
	if err != nil {
		slog.Debug("screen: ocr failed", "error", err)
		return
	}
	c.OCRItems = items
}

// PersistScreenshot writes the candidate image early so observers see
// live state before the step completes. Blocked candidates get a
// placeholder.
func (m *Manager) PersistScreenshot(c *Candidate) error {
	if c.Blocked {
		return media.WritePlaceholder(c.ScreenshotPath, 1080, 1920)
	}
	return os.WriteFile(c.ScreenshotPath, c.Screenshot, 0o644)
}

// Record upserts the screen row, optionally counts a visit, and
// persists the tree and OCR artifacts at the proposed paths.
func (m *Manager) Record(ctx context.Context, c *Candidate, runID int64, step int, incrementVisit bool) (*Recorded, error) {
	id, wasNew, err := m.store.UpsertScreen(store.Screen{
		RunID:          runID,
		CompositeHash:  c.CompositeHash,
		Activity:       c.Activity,
		ScreenshotPath: c.ScreenshotPath,
		XMLPath:        c.TreePath,
		OCRPath:        c.OCRPath,
		FirstSeenStep:  step,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert screen: %w", err)
	}

	if wasNew {
		m.checkNearDuplicate(c)
		if err := os.WriteFile(c.TreePath, []byte(c.UITree), 0o644); err != nil {
			slog.Warn("screen: persist tree failed", "path", c.TreePath, "error", err)
		}
		m.recognizeNew(ctx, c)
	}
	if c.Visual != 0 {
		m.visuals[c.CompositeHash] = c.Visual
	}

	visits := 0
	if incrementVisit {
		visits, err = m.store.IncrementVisit(runID, id)
	} else {
		visits, err = m.store.GetVisitCount(runID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("visit count: %w", err)
	}

	return &Recorded{ScreenID: id, WasNew: wasNew, VisitCount: visits}, nil
}

// recognizeNew runs OCR once the first screenshot of a screen is on
// disk, and caches the result.
func (m *Manager) recognizeNew(ctx context.Context, c *Candidate) {
	if c.Blocked || len(c.OCRItems) > 0 {
		return
	}
	if _, err := os.Stat(c.ScreenshotPath); err != nil {
		return
	}
	items, err := m.ocr.Recognize(ctx, c.ScreenshotPath)
	if err != nil || items == nil {
		return
	}
	c.OCRItems = items
	if err := SaveOCRCache(c.OCRPath, items); err != nil {
		slog.Debug("screen: save ocr cache failed", "error", err)
	}
}

func (m *Manager) checkNearDuplicate(c *Candidate) {
	if c.Visual == 0 || m.similarityThreshold <= 0 {
		return
	}
	for hash, vh := range m.visuals {
		if s := Similarity(c.Visual, vh); s >= m.similarityThreshold {
			slog.Info("screen: visually similar to existing screen",
				"new", c.CompositeHash, "existing", hash, "similarity", fmt.Sprintf("%.3f", s))
			return
		}
	}
}
