// Package errors provides domain-specific error types and sentinel errors
// for the order pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common scenarios.
// Use errors.Is() to check these errors in your code.
var (
	// ErrMerchantNotFound indicates the webhook destination maps to no known merchant.
	ErrMerchantNotFound = errors.New("merchant not found")

	// ErrConversationNotFound indicates a conversation lookup by id failed.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrOrderExists indicates the conversation already has a materialized order.
	ErrOrderExists = errors.New("order already exists for conversation")
)

// ExtractionError represents an LLM extraction failure with provider context.
// Extraction failures must leave conversation state untouched, so callers
// check for this type to skip the merge and reply steps.
type ExtractionError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("extraction failed (provider=%s, model=%s): %v", e.Provider, e.Model, e.Err)
	}
	return fmt.Sprintf("extraction failed (provider=%s): %v", e.Provider, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewExtractionError creates a new extraction error.
func NewExtractionError(provider, model string, err error) *ExtractionError {
	return &ExtractionError{Provider: provider, Model: model, Err: err}
}
