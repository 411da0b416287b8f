package crawler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/droidcrawl/droidcrawl/internal/device"
)

// DeviceDriver is the slice of the device client the executor needs.
type DeviceDriver interface {
	Tap(ctx context.Context, target device.TapTarget) error
	InputText(ctx context.Context, target device.TapTarget, text string) error
	LongPress(ctx context.Context, target device.TapTarget, durationMS int) error
	DoubleTap(ctx context.Context, target device.TapTarget) error
	ClearText(ctx context.Context, id string) error
	ReplaceText(ctx context.Context, target device.TapTarget, text string) error
	Scroll(ctx context.Context, dir device.Direction) error
	Swipe(ctx context.Context, dir device.Direction) error
	Flick(ctx context.Context, dir device.Direction) error
	PressBack(ctx context.Context) error
	ResetApp(ctx context.Context) error
}

// BatchResult reports a batch execution.
type BatchResult struct {
	Executed  int
	Successes []bool
	// ElementMisses counts actions that failed because no locator
	// strategy resolved the target.
	ElementMisses int
	Err           error // first failure when stop-on-error aborted
}

// AllSucceeded is the overall batch outcome.
func (r BatchResult) AllSucceeded() bool {
	if r.Executed == 0 {
		return false
	}
	for _, ok := range r.Successes[:r.Executed] {
		if !ok {
			return false
		}
	}
	return true
}

// SuccessCount counts succeeded actions.
func (r BatchResult) SuccessCount() int {
	n := 0
	for _, ok := range r.Successes {
		if ok {
			n++
		}
	}
	return n
}

// Executor dispatches action batches to the device.
type Executor struct {
	device             DeviceDriver
	waitBetweenActions time.Duration
	stopOnError        bool
}

func NewExecutor(d DeviceDriver, waitBetween time.Duration, stopOnError bool) *Executor {
	return &Executor{device: d, waitBetweenActions: waitBetween, stopOnError: stopOnError}
}

// ExecuteBatch runs the actions in order. Between successful actions
// it sleeps the configured inter-action wait. With stop-on-error set,
// the first failure aborts the remainder.
func (e *Executor) ExecuteBatch(ctx context.Context, actions []Action) BatchResult {
	result := BatchResult{Successes: make([]bool, len(actions))}

	for i, a := range actions {
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			return result
		}

		err := e.dispatch(ctx, a)
		result.Executed = i + 1
		result.Successes[i] = err == nil

		if err != nil {
			if errors.Is(err, device.ErrElementNotFound) {
				result.ElementMisses++
			}
			slog.Warn("executor: action failed",
				"index", i+1, "kind", a.Kind, "target", a.Target, "error", err)
			if errors.Is(err, device.ErrSessionNotFound) || e.stopOnError {
				result.Err = err
				return result
			}
			continue
		}

		slog.Debug("executor: action done", "index", i+1, "kind", a.Kind, "target", a.Target)
		if i < len(actions)-1 {
			select {
			case <-ctx.Done():
				result.Err = ctx.Err()
				return result
			case <-time.After(e.waitBetweenActions):
			}
		}
	}
	return result
}

func target(a Action) device.TapTarget {
	t := device.TapTarget{ID: a.Target}
	if a.Box != nil {
		t.Box = &device.Box{TopLeft: a.Box.TopLeft, BottomRight: a.Box.BottomRight}
	}
	return t
}

func (e *Executor) dispatch(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionClick:
		return e.device.Tap(ctx, target(a))
	case ActionInput:
		return e.device.InputText(ctx, target(a), a.InputText)
	case ActionLongPress:
		return e.device.LongPress(ctx, target(a), a.DurationMS)
	case ActionDoubleTap:
		return e.device.DoubleTap(ctx, target(a))
	case ActionClearText:
		return e.device.ClearText(ctx, a.Target)
	case ActionReplaceText:
		return e.device.ReplaceText(ctx, target(a), a.InputText)
	case ActionScrollUp:
		return e.device.Scroll(ctx, device.Up)
	case ActionScrollDown:
		return e.device.Scroll(ctx, device.Down)
	case ActionSwipeLeft:
		return e.device.Swipe(ctx, device.Left)
	case ActionSwipeRight:
		return e.device.Swipe(ctx, device.Right)
	case ActionFlick:
		return e.device.Flick(ctx, device.Direction(inferDirection(&a, "down")))
	case ActionBack:
		return e.device.PressBack(ctx)
	case ActionResetApp:
		return e.device.ResetApp(ctx)
	}
	return errors.New("executor: unreachable action kind " + string(a.Kind))
}
