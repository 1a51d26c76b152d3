package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidPhone       = errors.New("phone number is not a valid subscriber number")
	ErrInitiationRejected = errors.New("payment initiation rejected")
	ErrAttemptInProgress  = errors.New("payment attempt already in progress")
	ErrAttemptFinished    = errors.New("payment attempt already finished")
	ErrNotPending         = errors.New("payment attempt is not pending")
	ErrPollingTransport   = errors.New("payment status check failed")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrTimedOut           = errors.New("payment confirmation timed out")
	ErrUserCancelled      = errors.New("payment cancelled by user")
	ErrDuplicateOrder     = errors.New("order already exists for transaction")
	ErrDuplicateEvent     = errors.New("webhook event already received")
)

type ErrorKind string

const (
	ErrorKindInitiationRejected    ErrorKind = "InitiationRejected"
	ErrorKindAttemptInProgress     ErrorKind = "AttemptInProgress"
	ErrorKindPollingTransportError ErrorKind = "PollingTransportError"
	ErrorKindPaymentFailed         ErrorKind = "PaymentFailed"
	ErrorKindTimedOut              ErrorKind = "TimedOut"
	ErrorKindUserCancelled         ErrorKind = "UserCancelled"
	ErrorKindUnknown               ErrorKind = "Unknown"
)

// KindOf maps err onto the error taxonomy surfaced to the UI.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInitiationRejected):
		return ErrorKindInitiationRejected
	case errors.Is(err, ErrAttemptInProgress):
		return ErrorKindAttemptInProgress
	case errors.Is(err, ErrPollingTransport):
		return ErrorKindPollingTransportError
	case errors.Is(err, ErrPaymentFailed):
		return ErrorKindPaymentFailed
	case errors.Is(err, ErrTimedOut):
		return ErrorKindTimedOut
	case errors.Is(err, ErrUserCancelled):
		return ErrorKindUserCancelled
	default:
		return ErrorKindUnknown
	}
}
