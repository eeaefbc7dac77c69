package query

import "errors"

// ErrClassifierFailure is returned by a classifier that could not produce an intent.
// The orchestrator falls back to keyword matching and never surfaces it to callers.
var ErrClassifierFailure = errors.New("intent classification failed")
