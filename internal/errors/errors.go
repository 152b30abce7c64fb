// Package errors defines the API error taxonomy shared by handlers and services.
package errors

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// APIError represents a structured API error with an HTTP status, a stable
// machine-readable code and a human-readable message.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Predefined errors
var (
	ErrBadRequest        = &APIError{HTTPStatus: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Invalid request parameters"}
	ErrInvalidJSON       = &APIError{HTTPStatus: http.StatusBadRequest, Code: "INVALID_JSON", Message: "Invalid JSON payload"}
	ErrValidation        = &APIError{HTTPStatus: http.StatusBadRequest, Code: "VALIDATION_FAILED", Message: "Validation failed"}
	ErrDuplicateResource = &APIError{HTTPStatus: http.StatusConflict, Code: "DUPLICATE_RESOURCE", Message: "Resource already exists"}
	ErrResourceNotFound  = &APIError{HTTPStatus: http.StatusNotFound, Code: "NOT_FOUND", Message: "Resource not found"}
	ErrInternalServer    = &APIError{HTTPStatus: http.StatusInternalServerError, Code: "INTERNAL_SERVER_ERROR", Message: "Internal server error"}
	ErrDatabase          = &APIError{HTTPStatus: http.StatusInternalServerError, Code: "DATABASE_ERROR", Message: "Database operation failed"}
	ErrUnauthorized      = &APIError{HTTPStatus: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Authentication required"}
	ErrForbidden         = &APIError{HTTPStatus: http.StatusForbidden, Code: "FORBIDDEN", Message: "Access denied"}
	ErrBadGateway        = &APIError{HTTPStatus: http.StatusBadGateway, Code: "BAD_GATEWAY", Message: "Upstream provider error"}

	// Domain errors
	ErrSlotAlreadyHeld       = &APIError{HTTPStatus: http.StatusConflict, Code: "SLOT_ALREADY_HELD", Message: "Slot already held by another member"}
	ErrHolderAlreadyAssigned = &APIError{HTTPStatus: http.StatusConflict, Code: "HOLDER_ALREADY_ASSIGNED", Message: "Member already holds an open assignment"}
	ErrNoActiveAssignment    = &APIError{HTTPStatus: http.StatusNotFound, Code: "NO_ACTIVE_ASSIGNMENT", Message: "Member has no open assignment"}
	ErrPauseOverlap          = &APIError{HTTPStatus: http.StatusConflict, Code: "PAUSE_OVERLAP", Message: "Pause window overlaps an existing one"}
	ErrInvalidPauseWindow    = &APIError{HTTPStatus: http.StatusBadRequest, Code: "INVALID_PAUSE_WINDOW", Message: "Pause window end must be after start"}
	ErrNotOptedIn            = &APIError{HTTPStatus: http.StatusForbidden, Code: "NOT_OPTED_IN", Message: "Recipient has not opted in to messages"}
)

// NewAPIError creates a copy of a predefined error with a custom message.
func NewAPIError(base *APIError, message string) *APIError {
	return &APIError{
		HTTPStatus: base.HTTPStatus,
		Code:       base.Code,
		Message:    message,
	}
}

// NewAPIErrorWithUpstream creates an error carrying an upstream status and code.
func NewAPIErrorWithUpstream(httpStatus int, code string, message string) *APIError {
	return &APIError{
		HTTPStatus: httpStatus,
		Code:       code,
		Message:    message,
	}
}

// NewValidationError creates a validation error with a custom message.
func NewValidationError(message string) *APIError {
	return NewAPIError(ErrValidation, message)
}

// NewAuthenticationError creates an authentication error with a custom message.
func NewAuthenticationError(message string) *APIError {
	return NewAPIError(ErrUnauthorized, message)
}

// NewNotFoundError creates a not-found error with a custom message.
func NewNotFoundError(message string) *APIError {
	return NewAPIError(ErrResourceNotFound, message)
}

// NewForbiddenError creates a forbidden error with a custom message.
func NewForbiddenError(message string) *APIError {
	return NewAPIError(ErrForbidden, message)
}

// ParseDBError maps a database error to an APIError. Uniqueness violations are
// recognized for PostgreSQL (SQLSTATE 23505), MySQL (1062) and SQLite; callers
// that expect the insert-wins pattern treat the resulting ErrDuplicateResource
// as a successful no-op.
func ParseDBError(err error) *APIError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrResourceNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateResource
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return ErrDuplicateResource
	}

	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateResource
	}

	return ErrDatabase
}

// IsDuplicate reports whether err resolves to a uniqueness violation.
func IsDuplicate(err error) bool {
	apiErr := ParseDBError(err)
	return apiErr != nil && apiErr.Code == ErrDuplicateResource.Code
}
