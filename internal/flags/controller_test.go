package flags

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	return New(Options{Dir: t.TempDir()})
}

func TestCreateExistsRemove(t *testing.T) {
	c := newTestController(t)

	for _, k := range []Kind{Shutdown, Pause, StepByStep, Continue} {
		if c.Exists(k) {
			t.Errorf("kind %d exists before create", k)
		}
		c.Create(k)
		if !c.Exists(k) {
			t.Errorf("kind %d missing after create", k)
		}
		c.Remove(k)
		if c.Exists(k) {
			t.Errorf("kind %d present after remove", k)
		}
	}
}

func TestExistsOnBadPathReadsAbsent(t *testing.T) {
	c := New(Options{Dir: filepath.Join("/nonexistent", "nope")})
	if c.Exists(Shutdown) {
		t.Error("stat error should read as absent")
	}
	// create/remove on a bad path must not panic
	c.Create(Pause)
	c.Remove(Pause)
}

func TestClearStale(t *testing.T) {
	c := newTestController(t)
	c.Create(Shutdown)
	c.Create(Pause)
	c.Create(Continue)
	c.Create(StepByStep)

	c.ClearStale()

	if c.Exists(Shutdown) || c.Exists(Pause) || c.Exists(Continue) {
		t.Error("stale signals survived ClearStale")
	}
	if !c.Exists(StepByStep) {
		t.Error("step-by-step mode flag must survive ClearStale")
	}
}

func TestWaitWhilePausedReleasesOnRemove(t *testing.T) {
	c := newTestController(t)
	c.Create(Pause)

	go func() {
		time.Sleep(100 * time.Millisecond)
		c.Remove(Pause)
	}()

	start := time.Now()
	if !c.WaitWhilePaused(context.Background()) {
		t.Fatal("WaitWhilePaused returned false without shutdown")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("wait returned before pause was lifted")
	}
}

func TestWaitWhilePausedAbortsOnShutdown(t *testing.T) {
	c := newTestController(t)
	c.Create(Pause)
	c.Create(Shutdown)

	if c.WaitWhilePaused(context.Background()) {
		t.Error("want false when shutdown is raised during pause")
	}
}

func TestWaitContinueConsumesFlag(t *testing.T) {
	c := newTestController(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		c.Create(Continue)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !c.WaitContinue(ctx) {
		t.Fatal("WaitContinue aborted unexpectedly")
	}
	if c.Exists(Continue) {
		t.Error("continue flag must be consumed after release")
	}
}

func TestWaitContinueAbortsOnContext(t *testing.T) {
	c := newTestController(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if c.WaitContinue(ctx) {
		t.Error("want false on context timeout")
	}
}
