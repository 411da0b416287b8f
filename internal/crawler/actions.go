// Package crawler is the exploration core: the step loop, the prompt
// and context assembly around the model, the action batch parser and
// executor, and the stuck policy.
package crawler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionKind is the closed set of actions the model may request.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionInput       ActionKind = "input"
	ActionLongPress   ActionKind = "long_press"
	ActionDoubleTap   ActionKind = "double_tap"
	ActionClearText   ActionKind = "clear_text"
	ActionReplaceText ActionKind = "replace_text"
	ActionScrollUp    ActionKind = "scroll_up"
	ActionScrollDown  ActionKind = "scroll_down"
	ActionSwipeLeft   ActionKind = "swipe_left"
	ActionSwipeRight  ActionKind = "swipe_right"
	ActionFlick       ActionKind = "flick"
	ActionBack        ActionKind = "back"
	ActionResetApp    ActionKind = "reset_app"
)

var validKinds = map[ActionKind]bool{
	ActionClick: true, ActionInput: true, ActionLongPress: true,
	ActionDoubleTap: true, ActionClearText: true, ActionReplaceText: true,
	ActionScrollUp: true, ActionScrollDown: true,
	ActionSwipeLeft: true, ActionSwipeRight: true,
	ActionFlick: true, ActionBack: true, ActionResetApp: true,
}

// globalKinds act on the whole screen and need no target.
var globalKinds = map[ActionKind]bool{
	ActionScrollUp: true, ActionScrollDown: true,
	ActionSwipeLeft: true, ActionSwipeRight: true,
	ActionFlick: true, ActionBack: true, ActionResetApp: true,
}

// BoundingBox is the pixel rectangle of an action target.
type BoundingBox struct {
	TopLeft     [2]int `json:"top_left"`
	BottomRight [2]int `json:"bottom_right"`
}

// Action is one atomic intent from the model.
type Action struct {
	Kind        ActionKind   `json:"action"`
	Desc        string       `json:"action_desc,omitempty"`
	Target      string       `json:"target_identifier,omitempty"`
	Box         *BoundingBox `json:"target_bounding_box,omitempty"`
	InputText   string       `json:"input_text,omitempty"`
	DurationMS  int          `json:"duration_ms,omitempty"`
	Direction   string       `json:"direction,omitempty"`
	Reasoning   string       `json:"reasoning"`
}

// Describe returns the short human string persisted with each step.
func (a Action) Describe() string {
	if a.Desc != "" {
		return a.Desc
	}
	var b strings.Builder
	b.WriteString(string(a.Kind))
	if a.Target != "" {
		fmt.Fprintf(&b, " on '%s'", a.Target)
	}
	if a.InputText != "" {
		fmt.Fprintf(&b, " with text '%s'", a.InputText)
	}
	return b.String()
}

// Batch is the ordered action sequence for one step, plus the model's
// updated journal and signup signal.
type Batch struct {
	Actions         []Action `json:"actions"`
	Journal         string   `json:"exploration_journal"`
	SignupCompleted bool     `json:"signup_completed,omitempty"`
}

// MaxBatchSize bounds the actions accepted per step.
const MaxBatchSize = 12

// MarshalRaw renders the batch back to its wire shape, used for the
// persisted mapped-action blob.
func (b Batch) MarshalRaw() string {
	data, err := json.Marshal(b)
	if err != nil {
		return "{}"
	}
	return string(data)
}
