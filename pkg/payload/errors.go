package payload

import (
	"errors"
	"fmt"
)

// UnknownToolError indicates a tool name not present in the catalog
type UnknownToolError struct {
	Tool string
}

// Error implements the error interface
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Tool)
}

// IsUnknownToolError checks if an error is an UnknownToolError
func IsUnknownToolError(err error) bool {
	var unknownErr *UnknownToolError
	return errors.As(err, &unknownErr)
}
