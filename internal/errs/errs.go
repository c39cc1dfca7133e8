package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidParameters    = errors.New("invalid parameters")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrSessionNotFound      = errors.New("game session not found")
	ErrSessionNotActive     = errors.New("game session is not active")
	ErrSessionAlreadyActive = errors.New("an active game session already exists")
	ErrCellAlreadyRevealed  = errors.New("cell already revealed")
	ErrCellIndexOutOfRange  = errors.New("cell index out of range")
	ErrNothingToCashOut     = errors.New("nothing to cash out")
	ErrContention           = errors.New("resource busy, retry the operation")
	ErrPersistence          = errors.New("persistence failure")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrAccountNotFound      = errors.New("account not found")
	ErrRateLimited          = errors.New("rate limit exceeded")
)

// Persistence marks err as an infrastructure failure. Errors that already
// carry a known kind are returned unchanged.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if Known(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

var kinds = []struct {
	err    error
	code   string
	status int
}{
	{ErrInvalidParameters, "invalid_parameters", http.StatusBadRequest},
	{ErrInsufficientBalance, "insufficient_balance", http.StatusPaymentRequired},
	{ErrSessionNotFound, "session_not_found", http.StatusNotFound},
	{ErrSessionNotActive, "session_not_active", http.StatusConflict},
	{ErrSessionAlreadyActive, "session_already_active", http.StatusConflict},
	{ErrCellAlreadyRevealed, "cell_already_revealed", http.StatusConflict},
	{ErrCellIndexOutOfRange, "cell_index_out_of_range", http.StatusBadRequest},
	{ErrNothingToCashOut, "nothing_to_cash_out", http.StatusBadRequest},
	{ErrContention, "contention_retry", http.StatusServiceUnavailable},
	{ErrPersistence, "persistence_failure", http.StatusInternalServerError},
	{ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
	{ErrAccountNotFound, "account_not_found", http.StatusNotFound},
	{ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
}

// Known reports whether err belongs to the taxonomy above.
func Known(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}

// Code returns the stable client-facing code for err.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal_error"
}

// HTTPStatus maps err to the response status the boundary should use.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the whole operation may be safely retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrContention)
}
