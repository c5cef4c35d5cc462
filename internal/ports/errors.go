package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ingestion Errors
	ErrValidation  = errors.New("signal failed validation")
	ErrTradeClosed = errors.New("trade already reached a terminal status")

	// Collaborator Errors
	ErrPriceUnavailable      = errors.New("no price available for symbol")
	ErrClassifierUnavailable = errors.New("signal classifier is unavailable")
	ErrRateLimited           = errors.New("API rate limit exceeded")
)
