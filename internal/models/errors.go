package models

import (
	"errors"
	"fmt"
	"net/http"
)

// MaxPasswordBytes is the longest password bcrypt accepts, counted in bytes.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned by password hashers for input longer than
// MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// ServiceError represents errors from the account and OTP services with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// AsServiceError extracts a *ServiceError from err's chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Error constructors for common service errors

func NewUserNotFoundError(email string) *ServiceError {
	return &ServiceError{
		Code:       ErrorCodeUserNotFound,
		Message:    fmt.Sprintf("User not found with email: %s", email),
		StatusCode: http.StatusNotFound,
	}
}

func NewConflictError(message string) *ServiceError {
	return &ServiceError{
		Code:       ErrorCodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewInvalidOTPError() *ServiceError {
	return &ServiceError{
		Code:       ErrorCodeInvalidOTP,
		Message:    "Invalid OTP",
		StatusCode: http.StatusBadRequest,
	}
}

func NewOTPExpiredError() *ServiceError {
	return &ServiceError{
		Code:       ErrorCodeOTPExpired,
		Message:    "OTP has expired",
		StatusCode: http.StatusBadRequest,
	}
}

func NewInvalidCredentialsError() *ServiceError {
	return &ServiceError{
		Code:       ErrorCodeInvalidCredentials,
		Message:    "Email or password is incorrect",
		StatusCode: http.StatusUnauthorized,
	}
}

func NewPasswordTooLongError() *ServiceError {
	return &ServiceError{
		Code:       ErrorCodeValidation,
		Message:    fmt.Sprintf("Password must be at most %d bytes", MaxPasswordBytes),
		StatusCode: http.StatusBadRequest,
		Err:        ErrPasswordTooLong,
	}
}

func NewDispatchFailureError(err error) *ServiceError {
	return &ServiceError{
		Code:       ErrorCodeDispatchFailure,
		Message:    "Unable to send mail",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
