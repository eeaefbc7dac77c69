// Package async runs fire-and-forget work whose failures must still reach the logs.
package async

import (
	"context"
	"fmt"
	"time"

	"github.com/davidmoltin/site-integrations/pkg/logger"
)

// DefaultTimeout bounds a detached task
const DefaultTimeout = 10 * time.Second

// Go runs fn in its own goroutine with a fresh timeout. Errors and panics are
// logged under name.
func Go(log *logger.Logger, name string, fn func(ctx context.Context) error) {
	go Run(log, name, fn)
}

// Run is the synchronous body of Go
func Run(log *logger.Logger, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Detached task panicked",
				logger.String("task", name),
				logger.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := fn(ctx); err != nil {
		log.Warn("Detached task failed",
			logger.String("task", name),
			logger.Err(err),
		)
	}
}
