package crawler

import (
	"context"
	"fmt"
	"testing"

	"github.com/droidcrawl/droidcrawl/internal/device"
)

// fakeDriver records dispatched calls and fails on demand.
type fakeDriver struct {
	calls   []string
	failOn  map[string]error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{failOn: map[string]error{}}
}

func (f *fakeDriver) record(call string) error {
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeDriver) Tap(_ context.Context, t device.TapTarget) error {
	return f.record("tap:" + t.ID)
}
func (f *fakeDriver) InputText(_ context.Context, t device.TapTarget, text string) error {
	return f.record(fmt.Sprintf("input:%s:%s", t.ID, text))
}
func (f *fakeDriver) LongPress(_ context.Context, t device.TapTarget, ms int) error {
	return f.record(fmt.Sprintf("long_press:%s:%d", t.ID, ms))
}
func (f *fakeDriver) DoubleTap(_ context.Context, t device.TapTarget) error {
	return f.record("double_tap:" + t.ID)
}
func (f *fakeDriver) ClearText(_ context.Context, id string) error {
	return f.record("clear:" + id)
}
func (f *fakeDriver) ReplaceText(_ context.Context, t device.TapTarget, text string) error {
	return f.record(fmt.Sprintf("replace:%s:%s", t.ID, text))
}
func (f *fakeDriver) Scroll(_ context.Context, d device.Direction) error {
	return f.record("scroll:" + string(d))
}
func (f *fakeDriver) Swipe(_ context.Context, d device.Direction) error {
	return f.record("swipe:" + string(d))
}
func (f *fakeDriver) Flick(_ context.Context, d device.Direction) error {
	return f.record("flick:" + string(d))
}
func (f *fakeDriver) PressBack(_ context.Context) error { return f.record("back") }
func (f *fakeDriver) ResetApp(_ context.Context) error  { return f.record("reset_app") }

func TestExecuteBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatch per kind", func(t *testing.T) {
		d := newFakeDriver()
		e := NewExecutor(d, 0, false)
		actions := []Action{
			{Kind: ActionClick, Target: "btn", Reasoning: "r"},
			{Kind: ActionInput, Target: "field", InputText: "hello", Reasoning: "r"},
			{Kind: ActionScrollDown, Reasoning: "r"},
			{Kind: ActionSwipeLeft, Reasoning: "r"},
			{Kind: ActionBack, Reasoning: "r"},
		}
		res := e.ExecuteBatch(ctx, actions)
		if !res.AllSucceeded() || res.Executed != 5 {
			t.Fatalf("result = %+v", res)
		}
		want := []string{"tap:btn", "input:field:hello", "scroll:down", "swipe:left", "back"}
		for i, w := range want {
			if d.calls[i] != w {
				t.Fatalf("calls = %v, want %v", d.calls, want)
			}
		}
	})

	t.Run("continue past failures by default", func(t *testing.T) {
		d := newFakeDriver()
		d.failOn["tap:ghost"] = device.ErrElementNotFound
		e := NewExecutor(d, 0, false)
		res := e.ExecuteBatch(ctx, []Action{
			{Kind: ActionClick, Target: "ghost", Reasoning: "r"},
			{Kind: ActionBack, Reasoning: "r"},
		})
		if res.Executed != 2 {
			t.Fatalf("executed = %d, want 2", res.Executed)
		}
		if res.Successes[0] || !res.Successes[1] {
			t.Fatalf("successes = %v", res.Successes)
		}
		if res.ElementMisses != 1 {
			t.Fatalf("element misses = %d, want 1", res.ElementMisses)
		}
		if res.SuccessCount() != 1 || res.AllSucceeded() {
			t.Fatalf("counts wrong: %+v", res)
		}
	})

	t.Run("stop on error aborts the remainder", func(t *testing.T) {
		d := newFakeDriver()
		d.failOn["tap:ghost"] = device.ErrElementNotFound
		e := NewExecutor(d, 0, true)
		res := e.ExecuteBatch(ctx, []Action{
			{Kind: ActionClick, Target: "ghost", Reasoning: "r"},
			{Kind: ActionBack, Reasoning: "r"},
		})
		if res.Executed != 1 || res.Err == nil {
			t.Fatalf("result = %+v, want abort after first action", res)
		}
		if len(d.calls) != 1 {
			t.Fatalf("calls = %v, want the failing one only", d.calls)
		}
	})

	t.Run("session loss always aborts", func(t *testing.T) {
		d := newFakeDriver()
		d.failOn["tap:btn"] = device.ErrSessionNotFound
		e := NewExecutor(d, 0, false)
		res := e.ExecuteBatch(ctx, []Action{
			{Kind: ActionClick, Target: "btn", Reasoning: "r"},
			{Kind: ActionBack, Reasoning: "r"},
		})
		if res.Err == nil || res.Executed != 1 {
			t.Fatalf("result = %+v, want abort on session loss", res)
		}
	})

	t.Run("flick direction inferred from reasoning", func(t *testing.T) {
		d := newFakeDriver()
		e := NewExecutor(d, 0, false)
		e.ExecuteBatch(ctx, []Action{
			{Kind: ActionFlick, Reasoning: "flick left through the carousel"},
			{Kind: ActionFlick, Reasoning: "dismiss the card"},
		})
		if d.calls[0] != "flick:left" {
			t.Errorf("call = %s, want flick:left", d.calls[0])
		}
		if d.calls[1] != "flick:down" {
			t.Errorf("call = %s, want default flick:down", d.calls[1])
		}
	})

	t.Run("long press default duration comes from the device layer", func(t *testing.T) {
		d := newFakeDriver()
		e := NewExecutor(d, 0, false)
		e.ExecuteBatch(ctx, []Action{{Kind: ActionLongPress, Target: "item", Reasoning: "r"}})
		if d.calls[0] != "long_press:item:0" {
			t.Errorf("call = %s, want zero duration passed through", d.calls[0])
		}
	})
}
