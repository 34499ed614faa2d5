package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// ErrorClass buckets execution failures by how the coordinator reacts to them.
type ErrorClass int

const (
	// ClassTransientNetwork covers timeouts, resets, and node congestion.
	// Backoff, then retry.
	ClassTransientNetwork ErrorClass = iota + 1

	// ClassStaleReference means the blockhash lapsed before the transaction
	// landed. Refresh the blockhash and retry.
	ClassStaleReference

	// ClassSimulationRejected is a program-level preflight rejection. The
	// transaction would fail on chain exactly the same way, so the attempt
	// aborts.
	ClassSimulationRejected

	// ClassInsufficientFunds aborts immediately. Retrying cannot conjure
	// lamports.
	ClassInsufficientFunds

	// ClassSlippageExceeded means the pool moved past the quoted bound.
	// Aborts; a fresh decision cycle will re-quote if the setup still holds.
	ClassSlippageExceeded

	// ClassInvariantViolation is a bug in this process. It terminates the
	// owning token's work only, never the engine.
	ClassInvariantViolation
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransientNetwork:
		return "TRANSIENT_NETWORK"
	case ClassStaleReference:
		return "STALE_REFERENCE"
	case ClassSimulationRejected:
		return "SIMULATION_REJECTED"
	case ClassInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case ClassSlippageExceeded:
		return "SLIPPAGE_EXCEEDED"
	case ClassInvariantViolation:
		return "INVARIANT_VIOLATION"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether a failure of this class is worth another attempt
// with a fresh blockhash.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassTransientNetwork, ClassStaleReference:
		return true
	default:
		return false
	}
}

// ExecError carries a classified execution failure.
type ExecError struct {
	Class ErrorClass
	Err   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Classified wraps err with an explicit class.
func Classified(class ErrorClass, err error) error {
	return &ExecError{Class: class, Err: err}
}

// Classify determines the error class. An explicit *ExecError wins; anything
// else is matched against the error strings Solana RPC nodes actually return.
// Unrecognized errors classify as transient so the retry budget, not a string
// table, decides when to give up.
func Classify(err error) ErrorClass {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Class
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg,
		"blockhash not found",
		"blockhashnotfound",
		"block height exceeded",
		"blockhash expired"):
		return ClassStaleReference

	case containsAny(msg,
		"insufficient funds",
		"insufficient lamports",
		"attempt to debit an account but found no record of a prior credit"):
		return ClassInsufficientFunds

	case containsAny(msg,
		"slippage",
		// pump.fun program errors 6002/6003: max sol cost or min sol out
		// bound violated.
		"0x1772",
		"0x1773",
		"too much sol required",
		"too little sol received"):
		return ClassSlippageExceeded

	case containsAny(msg,
		"transaction simulation failed",
		"simulate transaction",
		"custom program error",
		"instructionerror"):
		return ClassSimulationRejected

	default:
		return ClassTransientNetwork
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
