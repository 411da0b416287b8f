package crawler

import (
	"strings"
	"testing"

	"github.com/droidcrawl/droidcrawl/internal/screen"
	"github.com/droidcrawl/droidcrawl/internal/store"
)

func testPromptBuilder() *PromptBuilder {
	return NewPromptBuilder("", "com.example", 3000, SignupDefaults{
		Email: "test@email.com", Password: "Test123!", Name: "Test User",
	})
}

func baseInput() PromptInput {
	return PromptInput{
		VisitCount:    2,
		UITree:        `<hierarchy><node class="android.widget.Button" text="Next" clickable="true" bounds="[0,0][100,50]"/></hierarchy>`,
		Journal:       `[{"action":"open app","outcome":"main screen"}]`,
		CurrentScreen: 3,
		Context: &StepContext{
			ScreenActions: []store.ScreenAction{
				{StepNumber: 4, ActionDesc: "click on 'Next'", Success: true, ToScreenID: ptr(3)},
				{StepNumber: 5, ActionDesc: "click on 'Back'", Success: true, ToScreenID: ptr(1)},
				{StepNumber: 6, ActionDesc: "click on 'Ghost'", Success: false},
			},
		},
	}
}

func TestPromptBuild(t *testing.T) {
	p := testPromptBuilder()

	t.Run("deterministic", func(t *testing.T) {
		if p.Build(baseInput()) != p.Build(baseInput()) {
			t.Fatal("identical inputs produced different prompts")
		}
	})

	t.Run("journal included verbatim", func(t *testing.T) {
		in := baseInput()
		// Exactly at the configured bound still goes in whole.
		in.Journal = strings.Repeat("j", 3000)
		out := p.Build(in)
		if !strings.Contains(out, in.Journal) {
			t.Error("journal at max length not included verbatim")
		}
	})

	t.Run("stuck marker", func(t *testing.T) {
		in := baseInput()
		in.Stuck = true
		in.StuckReason = "high visit count"
		out := p.Build(in)
		if !strings.Contains(out, "⚠ STUCK: high visit count") {
			t.Error("stuck marker missing")
		}
		if strings.Contains(p.Build(baseInput()), "⚠ STUCK") {
			t.Error("stuck marker present when not stuck")
		}
	})

	t.Run("blocked screenshot notice", func(t *testing.T) {
		in := baseInput()
		in.ScreenBlocked = true
		if !strings.Contains(p.Build(in), "BLOCKED") {
			t.Error("blocked notice missing")
		}
	})

	t.Run("tried actions annotated", func(t *testing.T) {
		out := p.Build(baseInput())
		if !strings.Contains(out, "click on 'Next' (ineffective)") {
			t.Error("no-op action not annotated as ineffective")
		}
		if !strings.Contains(out, "click on 'Back' (landed on screen #1)") {
			t.Error("navigation outcome missing")
		}
		if !strings.Contains(out, "click on 'Ghost' (FAILED)") {
			t.Error("failed action not annotated")
		}
	})

	t.Run("signup block before credentials exist", func(t *testing.T) {
		out := p.Build(baseInput())
		if !strings.Contains(out, "SIGNUP") || !strings.Contains(out, "test@email.com") {
			t.Error("signup block incomplete")
		}
		if !strings.Contains(out, `"signup_completed": true`) {
			t.Error("signup completion instruction missing")
		}
		if strings.Contains(out, "## LOGIN") {
			t.Error("login block present without credentials")
		}
	})

	t.Run("login block after credentials exist", func(t *testing.T) {
		in := baseInput()
		in.Credential = &store.Credential{
			Package: "com.example", Email: "test@email.com", Password: "Test123!",
			SignupCompleted: true,
		}
		out := p.Build(in)
		if !strings.Contains(out, "## LOGIN") || !strings.Contains(out, "LOG IN") {
			t.Error("login block missing")
		}
		if strings.Contains(out, "## SIGNUP") {
			t.Error("signup block present alongside login")
		}
	})

	t.Run("ui elements and ocr sections", func(t *testing.T) {
		in := baseInput()
		in.OCRItems = []screen.OCRItem{{Text: "Continue", Bounds: []int{1, 2, 3, 4}}}
		out := p.Build(in)
		if !strings.Contains(out, `"text": "Next"`) {
			t.Error("ui elements block missing")
		}
		if !strings.Contains(out, `ocr_0 = "Continue"`) {
			t.Error("ocr block missing")
		}
	})
}
