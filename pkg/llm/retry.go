package llm

import (
	"context"
	"time"
)

// WithRetries calls fn until it succeeds, returns a non-retryable error, or
// cfg.MaxRetries additional attempts were made. The delay grows linearly.
// fn must return errors already mapped to *Error so IsRetryable can see them.
func WithRetries[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		out, err = fn()
		if err == nil || !IsRetryable(err) {
			return out, err
		}
	}
	return out, err
}
