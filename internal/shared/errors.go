package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Initialization errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")
	ErrInvalidScript = fmt.Errorf("invalid migration script")
	ErrMissingPath   = fmt.Errorf("path does not exist")

	// Remote metadata errors
	ErrMetadata       = fmt.Errorf("metadata retrieval failed")
	ErrObjectNotFound = fmt.Errorf("object not described in target")

	// Authentication and transport errors
	ErrAuthFailed = fmt.Errorf("authentication failed")
	ErrAPIRequest = fmt.Errorf("API request failed")
	ErrTimeout    = fmt.Errorf("operation timed out")

	// Execution errors
	ErrExecution    = fmt.Errorf("batch execution failed")
	ErrJobFailed    = fmt.Errorf("bulk job failed")
	ErrNotSupported = fmt.Errorf("operation not supported by engine")

	// Abort conditions: a typed error unwinds the running pass.
	ErrAborted    = fmt.Errorf("run aborted")
	ErrAddonAbort = fmt.Errorf("aborted by add-on")

	// Unresolvable warnings
	ErrUnresolvedParent = fmt.Errorf("record matched no parent across all tasks")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
