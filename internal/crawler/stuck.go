package crawler

import "github.com/droidcrawl/droidcrawl/internal/store"

// Thresholds tunes the stuck policy. Defaults match the established
// corpus values; change them only when comparability does not matter.
type Thresholds struct {
	// VisitCount flags a screen visited strictly more than this.
	VisitCount int
	// NoOpSuccesses flags this many successful actions that stayed on
	// the current screen.
	NoOpSuccesses int
	// RecentWindow flags when the last RecentWindow actions all stayed.
	RecentWindow int
}

// DefaultThresholds returns the corpus-comparable defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{VisitCount: 5, NoOpSuccesses: 3, RecentWindow: 5}
}

// StuckDetector recognizes non-productive repetition on a screen.
type StuckDetector struct {
	t Thresholds
}

func NewStuckDetector(t Thresholds) *StuckDetector {
	return &StuckDetector{t: t}
}

// stayed reports whether a step ended on its own screen (or nowhere).
func stayed(s store.StepDetail) bool {
	return s.ToScreenID == nil || *s.ToScreenID == s.FromScreenID
}

// Evaluate scores the current screen. A fresh navigation is never
// stuck: when the latest action succeeded and moved screens, the
// detector yields immediately.
func (d *StuckDetector) Evaluate(currentScreen int64, visitCount int, recent []store.StepDetail, onScreen []store.ScreenAction) (bool, string) {
	if len(recent) > 0 {
		last := recent[len(recent)-1]
		if last.Success && !stayed(last) {
			return false, ""
		}
	}

	if visitCount > d.t.VisitCount {
		return true, "high visit count"
	}

	noOps := 0
	for _, a := range onScreen {
		if a.Success && (a.ToScreenID == nil || *a.ToScreenID == currentScreen) {
			noOps++
		}
	}
	if noOps >= d.t.NoOpSuccesses {
		return true, "multiple no-op successes"
	}

	var recentOnScreen []store.StepDetail
	for _, s := range recent {
		if s.FromScreenID == currentScreen {
			recentOnScreen = append(recentOnScreen, s)
		}
	}
	if len(recentOnScreen) >= d.t.RecentWindow {
		tail := recentOnScreen[len(recentOnScreen)-d.t.RecentWindow:]
		allStayed := true
		for _, s := range tail {
			if !stayed(s) {
				allStayed = false
				break
			}
		}
		if allStayed {
			return true, "all recent actions stayed"
		}
	}

	return false, ""
}
