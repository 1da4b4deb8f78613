package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches AppErrors by code so callers can test against the constructors,
// e.g. errors.Is(err, apperror.ErrInsufficientBalance()).
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Code returns the AppError code carried by err, or "" if there is none.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ---- Validation (VAL) ----

func ErrInvalidAmount() *AppError {
	return New("VAL_001", "Amount must be greater than zero", http.StatusBadRequest)
}

// Validation returns a VAL_002 validation error with a custom message.
func Validation(message string) *AppError {
	return New("VAL_002", message, http.StatusBadRequest)
}

// ---- Not found (NF) ----

func ErrNotFound(entity string) *AppError {
	return New("NF_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrAccountNotFound(owner string) *AppError {
	return New("NF_002", fmt.Sprintf("custodial account not found for %s", owner), http.StatusNotFound)
}

// ---- Balance (BAL) ----

func ErrInsufficientBalance() *AppError {
	return New("BAL_001", "Insufficient on-chain balance", http.StatusPaymentRequired)
}

func ErrNothingToSettle() *AppError {
	return New("BAL_002", "Business has no balance to settle", http.StatusUnprocessableEntity)
}

// ---- Conflicts (CON) ----

func ErrConflict(message string) *AppError {
	return New("CON_001", message, http.StatusConflict)
}

func ErrAlreadyProcessed() *AppError {
	return New("CON_002", "Request has already been processed", http.StatusConflict)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New("CON_003", fmt.Sprintf("illegal status transition %s -> %s", from, to), http.StatusConflict)
}

func ErrAccountExists() *AppError {
	return New("CON_004", "Custodial account already exists for owner", http.StatusConflict)
}

// ---- Chain (CHAIN) ----

func ErrChainSubmission(err error) *AppError {
	return Wrap("CHAIN_001", "Transaction submission failed", http.StatusBadGateway, err)
}

func ErrChainConfirmation(err error) *AppError {
	return Wrap("CHAIN_002", "Transaction was not confirmed successfully", http.StatusBadGateway, err)
}

func ErrChainTimeout(err error) *AppError {
	return Wrap("CHAIN_003", "Timed out waiting for transaction confirmation", http.StatusGatewayTimeout, err)
}

func ErrChainUnavailable(err error) *AppError {
	return Wrap("CHAIN_004", "Chain node unavailable", http.StatusBadGateway, err)
}

// ---- Gas (GAS) ----

func ErrGasTopUpFailed(err error) *AppError {
	return Wrap("GAS_001", "Could not top up gas for signer", http.StatusBadGateway, err)
}

// ---- Vault (VAULT) ----

func ErrDecryption(err error) *AppError {
	return Wrap("VAULT_001", "Key material could not be decrypted", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("VAULT_002", "Encryption service failure", http.StatusInternalServerError, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("AUTH_002", "Caller is not allowed to perform this operation", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
