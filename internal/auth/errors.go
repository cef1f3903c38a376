package auth

import (
	"errors"
	"net/http"
)

// Domain failures. Each maps to a stable code through Describe; anything that is
// not one of these is reported as an internal failure.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidOrExpiredToken  = errors.New("invalid or expired token")
	ErrAlreadyVerified        = errors.New("email already verified")
	ErrNotFound               = errors.New("user not found")
)

// Session failures.
var (
	ErrInvalidRefreshToken       = errors.New("invalid or expired refresh token")
	ErrUserNotFound              = errors.New("user not found")
	ErrRefreshTokenNotRecognized = errors.New("refresh token not found or expired")
)

// Gate failures.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTokenExpired     = errors.New("access token expired")
	ErrEmailNotVerified = errors.New("email not verified")
)

// ValidationError carries a user-facing message and matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(message string) error {
	return &ValidationError{Message: message}
}

// Outcome is the structured result of a failed operation as seen by clients.
type Outcome struct {
	Status  int
	Code    string
	Message string
}

// Describe translates err into a client-facing outcome. Internal failures never
// leak their cause.
func Describe(err error) Outcome {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return Outcome{Status: http.StatusBadRequest, Code: "VALIDATION_FAILED", Message: validationErr.Message}
	case errors.Is(err, ErrValidation):
		return Outcome{Status: http.StatusBadRequest, Code: "VALIDATION_FAILED", Message: ErrValidation.Error()}
	case errors.Is(err, ErrInvalidCredentials):
		return Outcome{Status: http.StatusUnauthorized, Code: "INVALID_CREDENTIALS", Message: ErrInvalidCredentials.Error()}
	case errors.Is(err, ErrEmailAlreadyRegistered):
		return Outcome{Status: http.StatusConflict, Code: "EMAIL_ALREADY_REGISTERED", Message: "Email already registered!"}
	case errors.Is(err, ErrTokenExpired):
		return Outcome{Status: http.StatusUnauthorized, Code: "TOKEN_EXPIRED", Message: "Access token expired"}
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return Outcome{Status: http.StatusBadRequest, Code: "INVALID_OR_EXPIRED_TOKEN", Message: "Invalid or expired token"}
	case errors.Is(err, ErrAlreadyVerified):
		return Outcome{Status: http.StatusBadRequest, Code: "ALREADY_VERIFIED", Message: "Email already verified"}
	case errors.Is(err, ErrInvalidRefreshToken):
		return Outcome{Status: http.StatusUnauthorized, Code: "INVALID_REFRESH_TOKEN", Message: "Invalid or expired refresh token"}
	case errors.Is(err, ErrRefreshTokenNotRecognized):
		return Outcome{Status: http.StatusUnauthorized, Code: "REFRESH_TOKEN_NOT_RECOGNIZED", Message: "Refresh token not found or expired"}
	case errors.Is(err, ErrUserNotFound):
		return Outcome{Status: http.StatusNotFound, Code: "USER_NOT_FOUND", Message: "User not found"}
	case errors.Is(err, ErrNotFound):
		return Outcome{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "User not found"}
	case errors.Is(err, ErrEmailNotVerified):
		return Outcome{Status: http.StatusUnauthorized, Code: "EMAIL_NOT_VERIFIED", Message: "Email not verified"}
	case errors.Is(err, ErrUnauthorized):
		return Outcome{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Invalid token"}
	default:
		return Outcome{Status: http.StatusInternalServerError, Code: "INTERNAL_FAILURE", Message: "internal failure"}
	}
}

// IsInternal reports whether err is not one of the domain failures above.
func IsInternal(err error) bool {
	return Describe(err).Code == "INTERNAL_FAILURE"
}
