package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/droidcrawl/droidcrawl/pkg/protocol"
)

func TestExitCode(t *testing.T) {
	t.Run("interrupted run maps to 130", func(t *testing.T) {
		if got := exitCode(exitCodeError{code: protocol.ExitInterrupted}); got != protocol.ExitInterrupted {
			t.Errorf("exitCode = %d, want %d", got, protocol.ExitInterrupted)
		}
	})

	t.Run("wrapped code survives", func(t *testing.T) {
		err := fmt.Errorf("crawl: %w", exitCodeError{code: protocol.ExitInterrupted})
		if got := exitCode(err); got != protocol.ExitInterrupted {
			t.Errorf("exitCode = %d, want %d", got, protocol.ExitInterrupted)
		}
	})

	t.Run("plain error maps to 1", func(t *testing.T) {
		if got := exitCode(errors.New("boom")); got != protocol.ExitError {
			t.Errorf("exitCode = %d, want %d", got, protocol.ExitError)
		}
	})
}
