package device

import "errors"

// Sentinel errors surfaced to the crawl loop.
var (
	// ErrSessionNotFound means the automation session is gone and
	// recovery attempts are exhausted. Fatal for the run.
	ErrSessionNotFound = errors.New("device: session not found")

	// ErrElementNotFound means no locator strategy resolved the target.
	ErrElementNotFound = errors.New("device: element not found")
)

// StrategyResult is the three-valued outcome of one rung of a
// fallback ladder.
type StrategyResult int

const (
	// OK: the strategy succeeded, stop the ladder.
	OK StrategyResult = iota
	// TryNext: the strategy failed recoverably, try the next rung.
	TryNext
	// Fatal: abort the ladder and surface the error.
	Fatal
)
