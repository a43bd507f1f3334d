package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMapper maps external errors to the auto-responder error taxonomy
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper classifies provider and storage errors by their message text.
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError maps external errors to taxonomy categories
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	// Propagate cancellation as-is
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	// Already classified
	for _, sentinel := range []error{ErrTransient, ErrPermanent, ErrPermissionDenied, ErrInvalidInput, ErrInvalidModelOutput, ErrNotFound, ErrInsufficientData, ErrConfiguration} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "401"), strings.Contains(errStr, "403"),
		strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "forbidden"),
		strings.Contains(errStr, "invalid api key"), strings.Contains(errStr, "permission denied"):
		return fmt.Errorf("access denied: %w", ErrPermissionDenied)

	case strings.Contains(errStr, "429"), strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "quota"), strings.Contains(errStr, "too many requests"):
		return fmt.Errorf("rate limited: %w", ErrTransient)

	case strings.Contains(errStr, "500"), strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"), strings.Contains(errStr, "504"),
		strings.Contains(errStr, "overloaded"), strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "unavailable"):
		return fmt.Errorf("provider unavailable: %w", ErrTransient)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("request timeout: %w", ErrTransient)

	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "unreachable"), strings.Contains(errStr, "eof"):
		return fmt.Errorf("network error: %w", ErrTransient)

	case strings.Contains(errStr, "context length"), strings.Contains(errStr, "content policy"),
		strings.Contains(errStr, "content_filter"), strings.Contains(errStr, "model not found"),
		strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("request refused: %w", ErrPermanent)

	case strings.Contains(errStr, "invalid request"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "400"):
		return fmt.Errorf("invalid request: %w", ErrPermanent)

	case strings.Contains(errStr, "malformed json"), strings.Contains(errStr, "invalid json"):
		return fmt.Errorf("invalid model output: %w", ErrInvalidModelOutput)

	case strings.Contains(errStr, "not found"):
		return fmt.Errorf("resource not found: %w", ErrNotFound)

	default:
		// Unknown provider failures are retried; the completion client caps attempts.
		return fmt.Errorf("unclassified provider error (%s): %w", err.Error(), ErrTransient)
	}
}

// IsRetryable determines if an error should trigger a retry
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Category returns the taxonomy category for an error
func (m *DefaultErrorMapper) Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrPermissionDenied):
		return "ErrPermissionDenied"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrPermanent):
		return "ErrPermanent"
	case errors.Is(err, ErrInvalidModelOutput):
		return "ErrInvalidModelOutput"
	case errors.Is(err, ErrInsufficientData):
		return "ErrInsufficientData"
	case errors.Is(err, ErrConfiguration):
		return "ErrConfiguration"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Permanent wraps error as permanent
func Permanent(message string) error {
	return fmt.Errorf("%s: %w", message, ErrPermanent)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// InvalidModelOutput wraps error as invalid model output
func InvalidModelOutput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidModelOutput)
}

// InsufficientData wraps error as insufficient data
func InsufficientData(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInsufficientData)
}

// Configuration wraps error as a configuration failure
func Configuration(message string) error {
	return fmt.Errorf("%s: %w", message, ErrConfiguration)
}

// IsRetryable reports whether an error is transient. Cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient)
}
