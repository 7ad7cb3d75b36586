package mcpservice

import "fmt"

// ValidationError reports a tool call whose name or arguments are unusable.
// The engine maps it to invalid params.
type ValidationError struct {
	// Field names the offending argument, or "name" for the tool name.
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// MissingArgument builds the error for an absent required argument.
func MissingArgument(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "missing required argument: " + field}
}

// InvalidArgument builds the error for an argument that is present but
// unusable.
func InvalidArgument(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ExecutionError reports a tool that ran and failed: a build that exited
// non-zero, a timeout, a missing toolchain. Message is the complete
// human-readable diagnosis; Detail carries the same facts as structured data.
type ExecutionError struct {
	Message string
	Detail  map[string]any
	Err     error
}

func (e *ExecutionError) Error() string { return e.Message }
func (e *ExecutionError) Unwrap() error { return e.Err }
