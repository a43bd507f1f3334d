package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrInvalidInput - malformed or missing request fields (reject the run before any stage starts)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found (history lookups, unknown model names)
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied - credentials rejected by a provider or sink (never retried)
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTransient - transient error (retry with backoff inside the completion client)
	ErrTransient = errors.New("transient error")

	// ErrPermanent - the provider refused the request in a way retrying cannot fix
	ErrPermanent = errors.New("permanent error")

	// ErrInvalidModelOutput - model returned malformed structured output
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrInsufficientData - not enough history to analyze a responder
	ErrInsufficientData = errors.New("insufficient data")

	// ErrConfiguration - configuration is unusable (fail fast at startup)
	ErrConfiguration = errors.New("configuration error")

	// ErrInternal - internal error (recorded on the workflow state, never surfaced raw)
	ErrInternal = errors.New("internal error")
)
