package screen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// OCRItem is one recognized text fragment with its pixel bounds.
// Prompts enumerate these as ocr_<index> targets.
type OCRItem struct {
	Text   string `json:"text"`
	Bounds []int  `json:"bounds"` // x1,y1,x2,y2
}

// OCREngine extracts text items from a screenshot.
type OCREngine interface {
	Recognize(ctx context.Context, screenshotPath string) ([]OCRItem, error)
}

// NoopOCR disables recognition.
type NoopOCR struct{}

func (NoopOCR) Recognize(context.Context, string) ([]OCRItem, error) { return nil, nil }

// CommandOCR shells out to an external recognizer that prints a JSON
// array of {text, bounds} objects for the given image path.
type CommandOCR struct {
	Command string
	Args    []string
}

func (c CommandOCR) Recognize(ctx context.Context, screenshotPath string) ([]OCRItem, error) {
	args := append(append([]string{}, c.Args...), screenshotPath)
	out, err := exec.CommandContext(ctx, c.Command, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ocr command: %w", err)
	}
	var items []OCRItem
	if err := json.Unmarshal(out, &items); err != nil {
		return nil, fmt.Errorf("ocr output: %w", err)
	}
	return items, nil
}

// SaveOCRCache writes the per-screen OCR result.
func SaveOCRCache(path string, items []OCRItem) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadOCRCache reads a cached result; a missing file is an empty
// result, not an error.
func LoadOCRCache(path string) []OCRItem {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var items []OCRItem
	if err := json.Unmarshal(data, &items); err != nil {
		slog.Warn("screen: corrupt ocr cache", "path", path, "error", err)
		return nil
	}
	return items
}

// FormatOCRBlock renders the prompt enumeration of OCR targets.
func FormatOCRBlock(items []OCRItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "ocr_%d = %q %v\n", i, it.Text, it.Bounds)
	}
	return b.String()
}
