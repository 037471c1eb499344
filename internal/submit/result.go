// Package submit signs, submits and confirms transactions on the ledger.
package submit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfirmationTimeout means polling ended without a closed-ledger answer. The
	// transaction outcome is unknown, not failed.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrTryAgainLater means the network refused to queue the transaction right now.
	ErrTryAgainLater = errors.New("network asked to try again later")
	// ErrTransactionNotFound means the transaction is not in any closed ledger.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Result is the outcome of a submission: one of Confirmed, Rejected, Pending or
// NetworkFailure. Pending is never terminal.
type Result interface {
	// TxHash returns the transaction hash, or "" when it was never computed.
	TxHash() string
	Terminal() bool
	isResult()
}

// Confirmed means the transaction succeeded in a closed ledger.
type Confirmed struct {
	Hash      string
	Ledger    int32
	CloseTime time.Time
}

// Rejected means the ledger refused the transaction. OperationIndex is the first failing
// operation, or -1 when the transaction failed as a whole.
type Rejected struct {
	Hash           string
	Code           string
	OperationIndex int
	OperationCode  string
}

// Pending means the network accepted the transaction and it still needs polling.
type Pending struct {
	PollToken string
}

// NetworkFailure means the outcome could not be established. Hash is set when the
// envelope was built, so the transaction can be looked up later.
type NetworkFailure struct {
	Hash  string
	Cause error
}

func (r Confirmed) TxHash() string      { return r.Hash }
func (r Rejected) TxHash() string       { return r.Hash }
func (r Pending) TxHash() string        { return r.PollToken }
func (r NetworkFailure) TxHash() string { return r.Hash }

func (Confirmed) Terminal() bool      { return true }
func (Rejected) Terminal() bool       { return true }
func (Pending) Terminal() bool        { return false }
func (NetworkFailure) Terminal() bool { return true }

func (Confirmed) isResult()      {}
func (Rejected) isResult()       {}
func (Pending) isResult()        {}
func (NetworkFailure) isResult() {}

func (r Rejected) Error() string {
	if r.OperationIndex < 0 {
		return fmt.Sprintf("transaction %s rejected: %s", r.Hash, r.Code)
	}
	return fmt.Sprintf("transaction %s rejected: %s (operation %d: %s)", r.Hash, r.Code, r.OperationIndex, r.OperationCode)
}

func (r NetworkFailure) Error() string {
	return fmt.Sprintf("transaction %s outcome unknown: %v", r.Hash, r.Cause)
}

func (r NetworkFailure) Unwrap() error { return r.Cause }

// IsConfirmationTimeout reports whether r is a NetworkFailure caused by polling exhaustion.
func IsConfirmationTimeout(r Result) bool {
	nf, ok := r.(NetworkFailure)
	return ok && errors.Is(nf.Cause, ErrConfirmationTimeout)
}
