package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"mmmcli/internal/analysis"
	"mmmcli/internal/config"
	"mmmcli/internal/dataset"
	"mmmcli/internal/mmm"
	"mmmcli/internal/optimize"
	"mmmcli/internal/preprocessing"
)

// ErrorType classifies application errors
type ErrorType string

const (
	ErrTypeData         ErrorType = "DATA"
	ErrTypeModel        ErrorType = "MODEL"
	ErrTypeOptimization ErrorType = "OPTIMIZATION"
	ErrTypeConfig       ErrorType = "CONFIG"
	ErrTypeNotFound     ErrorType = "NOT_FOUND"
	ErrTypeValidation   ErrorType = "VALIDATION"
	ErrTypeConflict     ErrorType = "CONFLICT"
	ErrTypeStorage      ErrorType = "STORAGE"
	ErrTypeTimeout      ErrorType = "TIMEOUT"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewDataError(message string, cause error) *AppError {
	return NewAppError(ErrTypeData, message, cause)
}

func NewModelError(message string, cause error) *AppError {
	return NewAppError(ErrTypeModel, message, cause)
}

func NewOptimizationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeOptimization, message, cause)
}

func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrTypeConflict, message, nil)
}

var sentinelTypes = []struct {
	target error
	typ    ErrorType
}{
	{config.ErrInvalidConfig, ErrTypeConfig},

	{dataset.ErrEmptyTable, ErrTypeData},
	{dataset.ErrColumnNotFound, ErrTypeData},
	{dataset.ErrDuplicateColumn, ErrTypeData},
	{dataset.ErrMissingValue, ErrTypeData},
	{dataset.ErrNonNumeric, ErrTypeData},
	{dataset.ErrUnsortedDates, ErrTypeData},
	{dataset.ErrIrregularPeriods, ErrTypeData},
	{dataset.ErrInvalidDate, ErrTypeData},
	{dataset.ErrInvalidSplit, ErrTypeData},
	{dataset.ErrUnsupportedSource, ErrTypeData},
	{preprocessing.ErrZeroDivisor, ErrTypeData},
	{preprocessing.ErrShapeMismatch, ErrTypeData},
	{preprocessing.ErrEmptyData, ErrTypeData},
	{preprocessing.ErrNotFitted, ErrTypeConflict},
	{analysis.ErrCostMismatch, ErrTypeData},
	{analysis.ErrNonPositiveCost, ErrTypeData},
	{analysis.ErrLengthMismatch, ErrTypeData},

	{mmm.ErrUnknownModel, ErrTypeModel},
	{mmm.ErrShapeMismatch, ErrTypeModel},
	{mmm.ErrInvalidInput, ErrTypeModel},
	{mmm.ErrUnknownPrior, ErrTypeModel},
	{mmm.ErrNotFitted, ErrTypeConflict},

	{optimize.ErrNonPositiveBudget, ErrTypeOptimization},
	{optimize.ErrPriceLengthMismatch, ErrTypeOptimization},
	{optimize.ErrNonPositivePrice, ErrTypeOptimization},
	{optimize.ErrInfeasibleBounds, ErrTypeOptimization},
	{optimize.ErrMissingExtraFeatures, ErrTypeOptimization},
	{optimize.ErrInvalidRequest, ErrTypeOptimization},
}

// Classify returns the error type of err, or "" when err is not a known
// application failure. AppError types win over wrapped sentinels.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return ErrTypeTimeout
	}
	for _, s := range sentinelTypes {
		if stderrors.Is(err, s.target) {
			return s.typ
		}
	}
	return ""
}
