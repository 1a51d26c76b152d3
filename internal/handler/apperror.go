package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid"}
	ErrTokenExpired     = &AppError{http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired, sign in again to continue checkout"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount      = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInvalidPhone       = &AppError{http.StatusBadRequest, "INVALID_PHONE", "Phone number is not a valid mobile-money number"}
	ErrAttemptInProgress  = &AppError{http.StatusConflict, "ATTEMPT_IN_PROGRESS", "A payment for this checkout is already in progress"}
	ErrAttemptFinished    = &AppError{http.StatusConflict, "ATTEMPT_FINISHED", "The payment attempt has already finished"}
	ErrNotPending         = &AppError{http.StatusConflict, "ATTEMPT_NOT_PENDING", "No pending payment for this checkout"}
	ErrInitiationRejected = &AppError{http.StatusBadGateway, "INITIATION_REJECTED", "The mobile-money provider rejected the payment request"}
	ErrStatusUnavailable  = &AppError{http.StatusBadGateway, "STATUS_UNAVAILABLE", "Payment status could not be retrieved, please try again"}
)
