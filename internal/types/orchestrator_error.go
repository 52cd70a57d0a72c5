package types

import (
	"errors"
	"fmt"
)

type ErrorSource string

const (
	SourceCache       ErrorSource = "cache"
	SourceRegistry    ErrorSource = "registry"
	SourcePipeline    ErrorSource = "identification_pipeline"
	SourceGeolocation ErrorSource = "geolocation"
)

const (
	CodeValidation       = "VALIDATION_FAILED"
	CodeNoProductsFound  = "NO_PRODUCTS_FOUND"
	CodeRegistryFailure  = "REGISTRY_FAILURE"
	CodePipelineFailure  = "PIPELINE_FAILURE"
	CodeRetakeSuggested  = "RETAKE_SUGGESTED"
	CodeCircuitOpen      = "CIRCUIT_OPEN"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNotFound         = "NOT_FOUND"
	CodeDependencyFailed = "DEPENDENCY_FAILED"
)

// OrchestratorError is the caller-visible failure shape for the scan
// flow: tagged with the failing subsystem and whether a retry by the
// caller can reasonably succeed.
type OrchestratorError struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Source      ErrorSource    `json:"source"`
	Recoverable bool           `json:"recoverable"`
	Context     map[string]any `json:"context,omitempty"`
	cause       error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Source, e.Message)
}

func (e *OrchestratorError) Unwrap() error { return e.cause }

func NewValidationError(msg string, ctx map[string]any) *OrchestratorError {
	return &OrchestratorError{
		Code:        CodeValidation,
		Message:     msg,
		Source:      SourceGeolocation,
		Recoverable: false,
		Context:     ctx,
	}
}

func NewRegistryError(msg string, recoverable bool, cause error) *OrchestratorError {
	return &OrchestratorError{
		Code:        CodeRegistryFailure,
		Message:     msg,
		Source:      SourceRegistry,
		Recoverable: recoverable,
		cause:       cause,
	}
}

func NewPipelineError(code, msg string, recoverable bool, cause error) *OrchestratorError {
	return &OrchestratorError{
		Code:        code,
		Message:     msg,
		Source:      SourcePipeline,
		Recoverable: recoverable,
		cause:       cause,
	}
}

// AsOrchestratorError unwraps err to the orchestrator shape, or wraps
// it as a generic non-recoverable dependency failure.
func AsOrchestratorError(err error, source ErrorSource) *OrchestratorError {
	if err == nil {
		return nil
	}
	var oe *OrchestratorError
	if errors.As(err, &oe) {
		return oe
	}
	return &OrchestratorError{
		Code:        CodeDependencyFailed,
		Message:     err.Error(),
		Source:      source,
		Recoverable: false,
		cause:       err,
	}
}
