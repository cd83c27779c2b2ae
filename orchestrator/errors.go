package orchestrator

import (
	"errors"
	"fmt"
)

// OrchestratorError is the base error type for the orchestrator.
type OrchestratorError struct {
	Message string
	Cause   error
}

func (e *OrchestratorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *OrchestratorError) Unwrap() error {
	return e.Cause
}

// ConfigurationError reports a setup problem: no adapters, an unknown
// primary tool, a bad limit, or a second Run. It is fatal.
type ConfigurationError struct{ OrchestratorError }

// ExecutionError reports the adapter failure that ended a run.
type ExecutionError struct {
	OrchestratorError
	Adapter   string
	Iteration int
	Attempts  int
	Retryable bool
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("[%s] iteration %d failed after %d attempt(s): %s", e.Adapter, e.Iteration, e.Attempts, e.Message)
}

func newConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{OrchestratorError{Message: fmt.Sprintf(format, args...)}}
}

// errRuntimeBudget is the cancellation cause used when MaxRuntime elapses.
var errRuntimeBudget = errors.New("runtime budget exhausted")

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsRetryable reports whether err describes a failure that may succeed if
// attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}
