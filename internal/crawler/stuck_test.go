package crawler

import (
	"testing"

	"github.com/droidcrawl/droidcrawl/internal/store"
)

func ptr(v int64) *int64 { return &v }

func TestStuckDetector(t *testing.T) {
	d := NewStuckDetector(DefaultThresholds())
	const scr = int64(1)

	t.Run("fresh navigation is never stuck", func(t *testing.T) {
		recent := []store.StepDetail{
			{StepNumber: 9, Success: true, FromScreenID: 2, ToScreenID: ptr(scr)},
		}
		// Even with an extreme visit count the navigation wins.
		stuck, reason := d.Evaluate(scr, 50, recent, nil)
		if stuck {
			t.Fatalf("stuck=%v reason=%q after navigation", stuck, reason)
		}
	})

	t.Run("visit count boundary", func(t *testing.T) {
		if stuck, _ := d.Evaluate(scr, 5, nil, nil); stuck {
			t.Error("visit count 5 flagged stuck")
		}
		stuck, reason := d.Evaluate(scr, 6, nil, nil)
		if !stuck || reason != "high visit count" {
			t.Errorf("visit count 6: stuck=%v reason=%q", stuck, reason)
		}
	})

	t.Run("no-op successes", func(t *testing.T) {
		onScreen := []store.ScreenAction{
			{StepNumber: 1, Success: true, ToScreenID: ptr(scr)},
			{StepNumber: 2, Success: true, ToScreenID: nil},
			{StepNumber: 3, Success: true, ToScreenID: ptr(scr)},
		}
		stuck, reason := d.Evaluate(scr, 1, nil, onScreen)
		if !stuck || reason != "multiple no-op successes" {
			t.Errorf("stuck=%v reason=%q", stuck, reason)
		}

		// Two no-ops plus a failure stay under the threshold.
		under := []store.ScreenAction{
			{Success: true, ToScreenID: ptr(scr)},
			{Success: true, ToScreenID: ptr(scr)},
			{Success: false, ToScreenID: nil},
		}
		if stuck, _ := d.Evaluate(scr, 1, nil, under); stuck {
			t.Error("two no-op successes flagged stuck")
		}
	})

	t.Run("all recent actions stayed", func(t *testing.T) {
		var recent []store.StepDetail
		for i := 1; i <= 5; i++ {
			recent = append(recent, store.StepDetail{
				StepNumber: i, Success: true, FromScreenID: scr, ToScreenID: ptr(scr),
			})
		}
		stuck, reason := d.Evaluate(scr, 1, recent, nil)
		if !stuck || reason != "all recent actions stayed" {
			t.Errorf("stuck=%v reason=%q", stuck, reason)
		}

		// One escape inside the window clears it.
		recent[3].ToScreenID = ptr(2)
		recent[3].FromScreenID = scr
		if stuck, _ := d.Evaluate(scr, 1, recent, nil); stuck {
			t.Error("window with a navigation flagged stuck")
		}
	})

	t.Run("navigation then failure re-enables detection", func(t *testing.T) {
		recent := []store.StepDetail{
			{StepNumber: 1, Success: true, FromScreenID: 2, ToScreenID: ptr(scr)},
			{StepNumber: 2, Success: false, FromScreenID: scr, ToScreenID: nil},
		}
		stuck, _ := d.Evaluate(scr, 6, recent, nil)
		if !stuck {
			t.Error("high visit count suppressed after a failed action")
		}
	})
}
