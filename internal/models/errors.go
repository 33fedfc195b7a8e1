package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes carried by AppError.
const (
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeRepositoryError = "REPOSITORY_ERROR"
	CodeTransportError  = "TRANSPORT_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAuthRequiredError is returned when a mutation is attempted without a viewer.
func NewAuthRequiredError(action string) *AppError {
	return &AppError{
		Code:    CodeAuthRequired,
		Message: "sign in required to " + action,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

// NewRepositoryError wraps a failure of the backing store.
func NewRepositoryError(err error) *AppError {
	return &AppError{
		Code:    CodeRepositoryError,
		Message: "repository failure",
		Err:     err,
	}
}

// NewTransportError wraps a failure of the change feed transport.
func NewTransportError(err error) *AppError {
	return &AppError{
		Code:    CodeTransportError,
		Message: "change feed failure",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// ErrorCode returns the AppError code found in err's chain, or "".
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// StatusFor maps an error to the HTTP status it is reported with.
func StatusFor(err error) int {
	switch ErrorCode(err) {
	case CodeAuthRequired:
		return fiber.StatusUnauthorized
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeRepositoryError:
		return fiber.StatusBadGateway
	case CodeTransportError:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// NewErrorResponse builds the client-facing form of err.
func NewErrorResponse(err error) ErrorResponse {
	var appErr *AppError
	if errors.As(err, &appErr) {
		response := ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
		return response
	}
	return ErrorResponse{Error: err.Error()}
}

// RespondWithError writes err as a JSON ErrorResponse with the given status.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(NewErrorResponse(err))
}
