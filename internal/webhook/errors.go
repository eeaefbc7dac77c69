package webhook

import (
	"errors"
	"fmt"

	"github.com/davidmoltin/site-integrations/internal/models"
)

var (
	// ErrVerification is returned when a delivery signature or subscription challenge does not match
	ErrVerification = errors.New("webhook verification failed")

	// ErrHandlerNotFound is reported when no handler is registered for an event key.
	// The event is dropped; this is not treated as a failure.
	ErrHandlerNotFound = errors.New("no handler registered for event")

	// ErrRetriesExhausted is reported when an event failed on every attempt and was dropped
	ErrRetriesExhausted = errors.New("webhook event retries exhausted")

	// ErrUnknownSource is returned when ingesting from a platform without a registered source
	ErrUnknownSource = errors.New("unknown webhook source")

	// ErrInvalidPayload is returned when a delivery cannot be parsed
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// VerificationError describes why a delivery or handshake was rejected
type VerificationError struct {
	Source models.Platform
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("webhook verification failed for %s: %s", e.Source, e.Reason)
}

// Is lets errors.Is match ErrVerification
func (e *VerificationError) Is(target error) bool {
	return target == ErrVerification
}

// HandlerPanicError wraps a panic recovered from a handler
type HandlerPanicError struct {
	Key   string
	Value interface{}
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.Key, e.Value)
}
