package async

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davidmoltin/site-integrations/pkg/logger"
)

func TestRun(t *testing.T) {
	log := logger.NewForTesting()

	t.Run("passes a live context", func(t *testing.T) {
		var deadlineSet bool
		Run(log, "ok", func(ctx context.Context) error {
			_, deadlineSet = ctx.Deadline()
			return nil
		})
		assert.True(t, deadlineSet)
	})

	t.Run("errors are logged not returned", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Run(log, "fails", func(ctx context.Context) error { return errors.New("boom") })
		})
	})

	t.Run("panics are recovered", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Run(log, "panics", func(ctx context.Context) error { panic("nil pointer") })
		})
	})
}

func TestGo(t *testing.T) {
	done := make(chan struct{})
	Go(logger.NewForTesting(), "signal", func(ctx context.Context) error {
		close(done)
		return nil
	})
	<-done
}
