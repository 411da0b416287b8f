package crawler

import (
	"fmt"
	"strings"

	"github.com/droidcrawl/droidcrawl/internal/screen"
	"github.com/droidcrawl/droidcrawl/internal/store"
)

// PromptInput is the per-step dynamic state rendered into the prompt.
type PromptInput struct {
	ScreenBlocked  bool
	VisitCount     int
	LastFeedback   string
	UITree         string
	OCRItems       []screen.OCRItem
	Stuck          bool
	StuckReason    string
	Journal        string
	Context        *StepContext
	CurrentScreen  int64
	Credential     *store.Credential // nil before signup
}

// SignupDefaults are the configured test identity offered to the model
// before credentials exist.
type SignupDefaults struct {
	Email    string
	Password string
	Name     string
}

// PromptBuilder renders the full model prompt. Output is deterministic
// for identical inputs.
type PromptBuilder struct {
	instructions      string // user-editable block, first in the prompt
	appPackage        string
	journalMaxLength  int
	signup            SignupDefaults
}

func NewPromptBuilder(instructions, appPackage string, journalMaxLength int, signup SignupDefaults) *PromptBuilder {
	if instructions == "" {
		instructions = defaultInstructions
	}
	return &PromptBuilder{
		instructions:     instructions,
		appPackage:       appPackage,
		journalMaxLength: journalMaxLength,
		signup:           signup,
	}
}

const defaultInstructions = `You are an autonomous mobile app explorer. Your goal is to discover as many distinct screens and features of the app as possible. Prefer unexplored elements, complete forms with plausible values, and back out of dead ends.`

const schemaSection = `## RESPONSE FORMAT
Respond with a single JSON object:
{
  "exploration_journal": "<your compressed memory of the run so far>",
  "actions": [
    {
      "action": "<one of the actions below>",
      "target_identifier": "<element id, visible text, or ocr_<i>; null for global actions>",
      "target_bounding_box": {"top_left": [x, y], "bottom_right": [x, y]},
      "input_text": "<text for input/replace_text>",
      "reasoning": "<one short sentence>"
    }
  ],
  "signup_completed": false
}

## AVAILABLE ACTIONS
- click: tap an element
- input: focus a field and type input_text
- long_press: press and hold an element
- double_tap: tap an element twice
- clear_text: clear a text field
- replace_text: clear a field then type input_text
- scroll_up / scroll_down: scroll the screen vertically
- swipe_left / swipe_right: swipe the screen horizontally
- flick: fast short swipe, direction from your reasoning
- back: press the system back button
- reset_app: force-stop and relaunch the app

## RULES
- Return 1 to 12 actions per response, ordered.
- target_identifier may reference an OCR item as ocr_<i> from the OCR section.
- Maintain exploration_journal as a JSON list of {"action": ..., "outcome": ...} objects.
- Keep the journal under the stated length; compress older entries yourself when near it.`

// Build renders the prompt: static instruction block, schema and
// rules, then the dynamic sections in fixed order.
func (p *PromptBuilder) Build(in PromptInput) string {
	var b strings.Builder

	b.WriteString(p.instructions)
	b.WriteString("\n\n")
	b.WriteString(schemaSection)
	fmt.Fprintf(&b, "\n- Journal maximum length: %d characters.\n", p.journalMaxLength)

	if in.ScreenBlocked {
		b.WriteString("\n## NOTICE\nThe screenshot for this screen was BLOCKED by a secure view; the attached image is a synthetic placeholder. Rely on the UI elements below.\n")
	}

	fmt.Fprintf(&b, "\n## CURRENT SCREEN\nScreen #%d, visited %d time(s) this run.\n", in.CurrentScreen, in.VisitCount)

	if in.LastFeedback != "" {
		fmt.Fprintf(&b, "\n## LAST ACTION\n%s\n", in.LastFeedback)
	}

	b.WriteString("\n## UI ELEMENTS\n")
	b.WriteString(screen.ElementsJSON(in.UITree))
	b.WriteString("\n")

	if ocr := screen.FormatOCRBlock(in.OCRItems); ocr != "" {
		b.WriteString("\n## OCR TEXT\n")
		b.WriteString(ocr)
	}

	if in.Stuck {
		fmt.Fprintf(&b, "\n⚠ STUCK: %s. Choose a different kind of action or navigate elsewhere.\n", in.StuckReason)
	}

	b.WriteString("\n## EXPLORATION JOURNAL\n")
	if in.Journal != "" {
		b.WriteString(in.Journal)
	} else {
		b.WriteString("[]")
	}
	b.WriteString("\n")

	p.writeTriedActions(&b, in)
	p.writeVisitedScreens(&b, in)
	p.writeAuthStrategy(&b, in.Credential)

	b.WriteString("\n## TASK\nDecide the next action batch for maximal coverage and respond with the JSON object only.\n")
	return b.String()
}

const triedActionLimit = 8

func (p *PromptBuilder) writeTriedActions(b *strings.Builder, in PromptInput) {
	if in.Context == nil || len(in.Context.ScreenActions) == 0 {
		return
	}
	actions := in.Context.ScreenActions
	if len(actions) > triedActionLimit {
		actions = actions[len(actions)-triedActionLimit:]
	}
	b.WriteString("\n## ALREADY TRIED ON THIS SCREEN\n")
	for _, a := range actions {
		outcome := "FAILED"
		if a.Success {
			if a.ToScreenID != nil && *a.ToScreenID != in.CurrentScreen {
				outcome = fmt.Sprintf("landed on screen #%d", *a.ToScreenID)
			} else {
				outcome = "ineffective"
			}
		}
		fmt.Fprintf(b, "- step %d: %s (%s)\n", a.StepNumber, a.ActionDesc, outcome)
	}
}

func (p *PromptBuilder) writeVisitedScreens(b *strings.Builder, in PromptInput) {
	if in.Context == nil || len(in.Context.VisitedScreens) == 0 {
		return
	}
	b.WriteString("\n## VISITED SCREENS\n")
	for _, s := range in.Context.VisitedScreens {
		fmt.Fprintf(b, "- screen #%d (%s): %d visit(s), first seen step %d\n",
			s.ScreenID, s.Activity, s.VisitCount, s.FirstSeenStep)
	}
}

func (p *PromptBuilder) writeAuthStrategy(b *strings.Builder, cred *store.Credential) {
	if cred != nil {
		fmt.Fprintf(b, "\n## LOGIN\nAn account already exists for this app. When asked to authenticate, LOG IN with:\n- email: %s\n- password: %s\n", cred.Email, cred.Password)
		if cred.Name != "" {
			fmt.Fprintf(b, "- name: %s\n", cred.Name)
		}
		b.WriteString("Do not create a new account.\n")
		return
	}
	fmt.Fprintf(b, "\n## SIGNUP\nNo account exists for this app yet. When the app asks for registration, SIGN UP with exactly:\n- email: %s\n- password: %s\n- name: %s\nSet \"signup_completed\": true in your response once registration succeeds.\n",
		p.signup.Email, p.signup.Password, p.signup.Name)
}
