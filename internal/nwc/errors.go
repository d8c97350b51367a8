package nwc

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConnectionString is returned for a malformed pairing identifier.
	// No network access is attempted.
	ErrInvalidConnectionString = errors.New("nwc: invalid connection string")
	// ErrConnectionTimeout is returned when the relay socket does not open in time.
	ErrConnectionTimeout = errors.New("nwc: connection timeout")
	// ErrConnectionError covers dial failures and sockets lost with requests in flight.
	ErrConnectionError = errors.New("nwc: connection error")
	// ErrRequestTimeout is returned when no response arrives before the request deadline.
	ErrRequestTimeout = errors.New("nwc: request timeout")
	// ErrInvalidResponse is returned for malformed or semantically incomplete payloads.
	ErrInvalidResponse = errors.New("nwc: invalid response")
	// ErrPaymentUnconfirmed is returned when the wallet answered a payment without a preimage.
	// The payment may or may not have happened; callers must not retry blindly.
	ErrPaymentUnconfirmed = errors.New("nwc: payment unconfirmed")
	// ErrSessionClosed is returned for requests failed by an explicit session close.
	ErrSessionClosed = errors.New("nwc: session closed")
)

// Standard error codes from NIP-47
const (
	ErrorCodeRateLimited         = "RATE_LIMITED"
	ErrorCodeNotImplemented      = "NOT_IMPLEMENTED"
	ErrorCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrorCodeQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrorCodeRestricted          = "RESTRICTED"
	ErrorCodeUnauthorized        = "UNAUTHORIZED"
	ErrorCodeInternal            = "INTERNAL"
	ErrorCodeOther               = "OTHER"
	ErrorCodePaymentFailed       = "PAYMENT_FAILED"
	ErrorCodeNotFound            = "NOT_FOUND"
)

// WalletError is an error reported by the wallet in a response frame
type WalletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WalletError) Error() string {
	if e.Message == "" {
		return "wallet error: " + e.Code
	}
	return fmt.Sprintf("wallet error: %s: %s", e.Code, e.Message)
}

// IsConnectionError reports whether err is a transport-level failure
// that is safe to retry for idempotent operations.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionError) || errors.Is(err, ErrConnectionTimeout)
}
