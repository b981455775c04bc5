package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for admission and bookkeeping failures. Evaluation and
// admission errors are recovered locally as recorded skips; only persistence
// failures after a confirmed execution escalate.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrBudgetExceeded       = errors.New("tier budget exceeded")
	ErrConcurrencyLimit     = errors.New("tier concurrency limit reached")
	ErrGlobalCapExceeded    = errors.New("global cap exceeded")
	ErrStalePrice           = errors.New("price moved beyond tolerance")
	ErrCircuitBreakerActive = errors.New("circuit breaker active")
	ErrBetNotFound          = errors.New("bet not found")
	ErrNotRollbackable      = errors.New("only the most recent unsettled reservation can be rolled back")
)

// ValidationError marks a malformed opportunity. Always a skip, never fatal.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid opportunity: %s: %s", e.Field, e.Reason)
}

// ForecastError wraps a failed forecaster call.
type ForecastError struct {
	OpportunityID string
	Err           error
}

func (e ForecastError) Error() string {
	return fmt.Sprintf("forecast %s: %v", e.OpportunityID, e.Err)
}

func (e ForecastError) Unwrap() error { return e.Err }

// ExecutionError wraps a venue rejection or timeout. Fatal to the candidate,
// never to the cycle.
type ExecutionError struct {
	BetID string
	Err   error
}

func (e ExecutionError) Error() string {
	return fmt.Sprintf("execute bet %s: %v", e.BetID, e.Err)
}

func (e ExecutionError) Unwrap() error { return e.Err }

// PersistenceError wraps a ledger write failure. After a confirmed venue
// execution this triggers the compensating rollback plus a review flag.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }
