package protocol

import "encoding/json"

// Event names published on the bus and forwarded to observers
// (WebSocket clients, the JSON_IPC stdout stream, file loggers).
const (
	EventRunStarted      = "run.started"
	EventRunStatus       = "run.status"
	EventRunFinished     = "run.finished"
	EventStepStarted     = "step.started"
	EventStepFinished    = "step.finished"
	EventScreenshotReady = "screenshot.ready"
	EventScreenNew       = "screen.new"
	EventActionExecuted  = "action.executed"
	EventStuckDetected   = "stuck.detected"
	EventLogLine         = "log.line"
)

// Terminal run statuses. Persisted verbatim in the runs table and
// reported as the final status on the IPC stream.
const (
	StatusRunning     = "RUNNING"
	StatusCompleted   = "COMPLETED"
	StatusInterrupted = "INTERRUPTED"
	StatusFailed      = "FAILED"
)

// IPCPrefix marks structured lines on stdout in subprocess mode.
// Observers parse lines of the form "JSON_IPC:{...}".
const IPCPrefix = "JSON_IPC:"

// Driver process exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitInterrupted = 130
)

// IPCLine is the wire shape of one JSON_IPC stdout line.
type IPCLine struct {
	Event   string          `json:"event"`
	RunID   int64           `json:"run_id,omitempty"`
	Step    int             `json:"step,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StepStartedPayload accompanies EventStepStarted.
type StepStartedPayload struct {
	Step int `json:"step"`
}

// ScreenshotPayload accompanies EventScreenshotReady.
type ScreenshotPayload struct {
	Path     string `json:"path"`
	ScreenID int64  `json:"screen_id,omitempty"`
	Blocked  bool   `json:"blocked,omitempty"`
}

// ActionPayload accompanies EventActionExecuted.
type ActionPayload struct {
	Description string `json:"description"`
	Success     bool   `json:"success"`
	Index       int    `json:"index"`
	BatchSize   int    `json:"batch_size"`
}

// LogPayload accompanies EventLogLine.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// StatusPayload accompanies EventRunStatus and EventRunFinished.
type StatusPayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
