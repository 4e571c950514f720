// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/nurture/pkg/abtest"
	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/trigger"
	"github.com/go-playground/validator/v10"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrWorkflowNil    = errors.New("workflow cannot be nil")
	ErrInvalidVariant = errors.New("invalid ab test variants")
	ErrNodeNotTested  = errors.New("node cannot carry an ab test")

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowInactive = errors.New("workflow is not active")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	var fieldErrors validator.ValidationErrors

	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrInvalidVariant) ||
		errors.Is(err, ErrNodeNotTested) ||
		errors.Is(err, abtest.ErrUnknownVariant) ||
		errors.Is(err, trigger.ErrInvalidEvent) ||
		errors.Is(err, trigger.ErrNoStartNode) ||
		errors.As(err, &fieldErrors) ||
		graph.IsValidationError(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowInactive) ||
		persistence.IsAlreadyEnrolled(err) ||
		persistence.IsVersionConflict(err)
}

// IsNotFoundError checks if an error names a missing resource (HTTP 404).
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) ||
		persistence.IsExecutionNotFound(err) ||
		persistence.IsABTestNotFound(err) ||
		persistence.IsContactNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
