package store

import "time"

// Run is a single crawl session.
type Run struct {
	ID         int64
	AppPackage string
	AppEntry   string
	StartTime  time.Time
	EndTime    *time.Time
	Status     string // protocol.Status* value
	MetaJSON   string // runtime statistics blob
}

// RunStats is the runtime statistics blob persisted on the run row.
type RunStats struct {
	StuckDetections int    `json:"stuck_detections"`
	LLMRetries      int    `json:"llm_retries"`
	ElementNotFound int    `json:"element_not_found"`
	AppCrashes      int    `json:"app_crashes"`
	ContextLosses   int    `json:"context_losses"`
	ImagesDropped   int    `json:"images_dropped"`
	Provider        string `json:"provider"`
	Model           string `json:"model"`
}

// Screen is a recognized UI state within a run. Immutable after insert.
type Screen struct {
	ID            int64
	RunID         int64
	CompositeHash string
	Activity      string
	ScreenshotPath string
	XMLPath        string
	OCRPath        string
	FirstSeenStep  int
}

// StepInsert is the input for recording one decision-execution cycle.
type StepInsert struct {
	RunID         int64
	StepNumber    int
	FromScreenID  int64
	ToScreenID    *int64 // nil when the action failed or the state is unclear
	ActionDesc    string
	LLMRaw        string // opaque JSON blob as returned
	MappedAction  string // normalized action batch JSON
	Success       bool
	ErrorMessage  string
	LLMResponseMS int64
	TotalTokens   *int64
	LLMPrompt     string
	ElementFindMS *int64
}

// StepDetail is a step row joined with screen hashes for prompting.
type StepDetail struct {
	StepNumber   int
	ActionDesc   string
	Success      bool
	FromScreenID int64
	ToScreenID   *int64
	ErrorMessage string
}

// ScreenSummary aggregates one screen's visit history for prompting.
type ScreenSummary struct {
	ScreenID      int64
	CompositeHash string
	Activity      string
	VisitCount    int
	FirstSeenStep int
}

// ScreenAction is one past action attempted from a given screen.
type ScreenAction struct {
	StepNumber int
	ActionDesc string
	Success    bool
	ToScreenID *int64
}

// Credential is a per-app test identity.
type Credential struct {
	Package         string    `json:"package"`
	Email           string    `json:"email"`
	Password        string    `json:"password,omitempty"`
	Name            string    `json:"name,omitempty"`
	ExtrasJSON      string    `json:"extras,omitempty"`
	SignupCompleted bool      `json:"signup_completed"`
	LoginCount      int       `json:"login_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
