package crawler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/droidcrawl/droidcrawl/internal/screen"
)

// ParseError describes why a model response was rejected.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model response: %s", e.Reason)
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractJSON pulls the JSON document out of the raw model text,
// tolerating code fences, preamble prose, and minor syntax damage.
func extractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	// Trim preamble and trailing prose around the outermost braces.
	if start := strings.IndexByte(text, '{'); start >= 0 {
		if end := strings.LastIndexByte(text, '}'); end > start {
			text = text[start : end+1]
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty response")
	}

	if json.Valid([]byte(text)) {
		return text, nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return "", fmt.Errorf("irreparable JSON: %w", err)
	}
	return repaired, nil
}

// ParseBatch validates the raw model text into a Batch. Both the batch
// shape and the legacy single-action shape are accepted; single
// actions are lifted into a one-element batch. When ocrItems is
// non-empty, ocr_<i> targets are resolved to bounding boxes.
func ParseBatch(raw string, ocrItems []screen.OCRItem) (*Batch, error) {
	doc, err := extractJSON(raw)
	if err != nil {
		return nil, &ParseError{Reason: err.Error(), Raw: raw}
	}

	var batch Batch
	if err := json.Unmarshal([]byte(doc), &batch); err != nil {
		return nil, &ParseError{Reason: "not an object: " + err.Error(), Raw: raw}
	}

	if len(batch.Actions) == 0 {
		// Legacy single-action shape.
		var single Action
		if err := json.Unmarshal([]byte(doc), &single); err != nil || single.Kind == "" {
			return nil, &ParseError{Reason: "no actions", Raw: raw}
		}
		batch.Actions = []Action{single}
	}

	if len(batch.Actions) > MaxBatchSize {
		return nil, &ParseError{
			Reason: fmt.Sprintf("batch of %d exceeds the maximum of %d", len(batch.Actions), MaxBatchSize),
			Raw:    raw,
		}
	}

	for i := range batch.Actions {
		if err := normalizeAction(&batch.Actions[i], ocrItems); err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("action %d: %v", i+1, err), Raw: raw}
		}
	}
	return &batch, nil
}

var ocrTargetRe = regexp.MustCompile(`^ocr_(\d+)$`)

func normalizeAction(a *Action, ocrItems []screen.OCRItem) error {
	a.Kind = ActionKind(strings.TrimSpace(strings.ToLower(string(a.Kind))))

	// Bare scroll/swipe/flick with a direction field collapse into the
	// enumerated kinds.
	switch a.Kind {
	case "scroll":
		if inferDirection(a, "down") == "up" {
			a.Kind = ActionScrollUp
		} else {
			a.Kind = ActionScrollDown
		}
	case "swipe":
		if inferDirection(a, "left") == "right" {
			a.Kind = ActionSwipeRight
		} else {
			a.Kind = ActionSwipeLeft
		}
	}

	if !validKinds[a.Kind] {
		return fmt.Errorf("unknown kind %q", a.Kind)
	}

	a.Target = strings.TrimSpace(a.Target)
	if a.Target == "" && a.Box == nil && !globalKinds[a.Kind] {
		return fmt.Errorf("kind %q requires a target", a.Kind)
	}
	if a.Reasoning = strings.TrimSpace(a.Reasoning); a.Reasoning == "" {
		return fmt.Errorf("missing reasoning")
	}
	switch a.Kind {
	case ActionInput, ActionReplaceText:
		if a.InputText == "" {
			return fmt.Errorf("kind %q requires input_text", a.Kind)
		}
	}
	if a.Box != nil {
		tl, br := a.Box.TopLeft, a.Box.BottomRight
		if br[0] < tl[0] || br[1] < tl[1] {
			return fmt.Errorf("degenerate bounding box %v %v", tl, br)
		}
	}

	resolveOCRTarget(a, ocrItems)
	return nil
}

// resolveOCRTarget maps an ocr_<i> target to the bounds of the i-th
// OCR item. Out-of-range indices leave the box null; execution then
// falls back to identifier lookup and reports the element missing.
func resolveOCRTarget(a *Action, ocrItems []screen.OCRItem) {
	if a.Box != nil || len(ocrItems) == 0 {
		return
	}
	m := ocrTargetRe.FindStringSubmatch(a.Target)
	if m == nil {
		return
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil || idx < 0 || idx >= len(ocrItems) {
		return
	}
	b := ocrItems[idx].Bounds
	if len(b) != 4 {
		return
	}
	a.Box = &BoundingBox{TopLeft: [2]int{b[0], b[1]}, BottomRight: [2]int{b[2], b[3]}}
}

// inferDirection reads an explicit direction field first, then scans
// the reasoning and target text for a direction word.
func inferDirection(a *Action, fallback string) string {
	if d := strings.ToLower(strings.TrimSpace(a.Direction)); d != "" {
		return d
	}
	text := strings.ToLower(a.Reasoning + " " + a.Target + " " + a.Desc)
	for _, d := range []string{"up", "down", "left", "right"} {
		if strings.Contains(text, d) {
			return d
		}
	}
	return fallback
}
