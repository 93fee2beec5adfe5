package models

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateInboundItem checks the transport-level shape of an item. Blank bodies are
// not rejected here; the stores report those as per-item validation failures.
func ValidateInboundItem(item *InboundItem) error {
	if item == nil {
		return &ValidationError{
			Field:   "item",
			Message: "inbound item cannot be nil",
		}
	}

	if item.Body == nil {
		return &ValidationError{
			Field:   "body",
			Message: "inbound item body is required",
		}
	}

	if item.Metadata.SourceHint != "" {
		if _, ok := ParseSource(item.Metadata.SourceHint); !ok {
			return &ValidationError{
				Field:   "metadata.source",
				Message: fmt.Sprintf("unknown source %q", item.Metadata.SourceHint),
			}
		}
	}

	if item.Metadata.LineNumber != nil && *item.Metadata.LineNumber < 0 {
		return &ValidationError{
			Field:   "metadata.line_number",
			Message: "line number must be non-negative",
		}
	}

	return nil
}

// Payload returns the unwrapped payload text and merges envelope headers into the
// item metadata.
func (item *InboundItem) Payload() string {
	payload, headers := UnwrapBody(item.Body)
	item.Metadata.ApplyHeaders(headers)
	return payload
}

// IsBlank reports whether the payload is empty after trimming whitespace.
func IsBlank(payload string) bool {
	return strings.TrimSpace(payload) == ""
}
