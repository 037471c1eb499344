package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/retry"
	"github.com/mtlprog/tokenize/internal/submit"
)

// Verdict is what a reconciliation established about a transaction.
type Verdict string

const (
	VerdictConfirmed Verdict = "confirmed"
	VerdictRejected  Verdict = "rejected"
	// VerdictAbsent means the transaction can never land: its time bound has passed and the
	// source sequence number was not consumed.
	VerdictAbsent Verdict = "absent"
	// VerdictUnknown means neither presence nor absence could be proven.
	VerdictUnknown Verdict = "unknown"
)

// Outcome is the result of a reconciliation. Result is set for confirmed and rejected verdicts.
type Outcome struct {
	Verdict Verdict
	Result  submit.Result
	Detail  string
}

// TxRef identifies a submitted transaction well enough to prove it absent.
type TxRef struct {
	Hash          string
	SourceAccount string
	Sequence      int64
	MaxTime       int64
}

// StatusChecker looks a transaction up by hash.
type StatusChecker interface {
	Status(ctx context.Context, hash string) (submit.Result, error)
}

// AccountLoader loads the current ledger state of an account.
type AccountLoader interface {
	LoadSnapshot(ctx context.Context, accountID string) (*domain.AccountSnapshot, error)
}

// Reconciler decides whether a transaction whose submission outcome is unknown landed.
type Reconciler struct {
	status   StatusChecker
	accounts AccountLoader
	grace    time.Duration
	clock    func() time.Time
}

// NewReconciler creates a Reconciler. grace is added to the transaction's upper time bound
// to absorb clock skew between this host and the network.
func NewReconciler(status StatusChecker, accounts AccountLoader, grace time.Duration, clock func() time.Time) *Reconciler {
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{status: status, accounts: accounts, grace: grace, clock: clock}
}

// Check looks the transaction up by hash. If it is not found and wait is set, Check sleeps
// until the time bound (plus grace) has passed and looks again; without wait an unexpired
// transaction is reported unknown. A transaction still missing after expiry is absent only
// if the source account's sequence number is below the transaction's.
func (r *Reconciler) Check(ctx context.Context, ref TxRef, wait bool) Outcome {
	if out, found := r.lookup(ctx, ref.Hash); found {
		return out
	}

	deadline := time.Unix(ref.MaxTime, 0).Add(r.grace)
	if ref.MaxTime == 0 {
		return Outcome{Verdict: VerdictUnknown, Detail: "transaction has no upper time bound"}
	}
	if now := r.clock(); now.Before(deadline) {
		if !wait {
			return Outcome{Verdict: VerdictUnknown, Detail: fmt.Sprintf("transaction valid until %s", deadline.UTC().Format(time.RFC3339))}
		}
		slog.Info("reconcile: waiting for transaction expiry", "hash", ref.Hash, "until", deadline)
		if err := retry.Sleep(ctx, deadline.Sub(now)); err != nil {
			return Outcome{Verdict: VerdictUnknown, Detail: fmt.Sprintf("waiting for expiry: %v", err)}
		}
		if out, found := r.lookup(ctx, ref.Hash); found {
			return out
		}
	}

	snap, err := r.accounts.LoadSnapshot(ctx, ref.SourceAccount)
	if err != nil {
		return Outcome{Verdict: VerdictUnknown, Detail: fmt.Sprintf("loading source account: %v", err)}
	}
	if snap.Sequence >= ref.Sequence {
		return Outcome{
			Verdict: VerdictUnknown,
			Detail:  fmt.Sprintf("sequence %d consumed (account at %d) but transaction %s not found", ref.Sequence, snap.Sequence, ref.Hash),
		}
	}
	return Outcome{Verdict: VerdictAbsent, Detail: fmt.Sprintf("transaction %s expired without landing", ref.Hash)}
}

// lookup returns a final outcome when the hash lookup settles the question; found is false
// only when the transaction is definitely not in a closed ledger.
func (r *Reconciler) lookup(ctx context.Context, hash string) (Outcome, bool) {
	res, err := r.status.Status(ctx, hash)
	switch {
	case err == nil:
		switch res.(type) {
		case submit.Confirmed:
			return Outcome{Verdict: VerdictConfirmed, Result: res}, true
		case submit.Rejected:
			return Outcome{Verdict: VerdictRejected, Result: res}, true
		}
		return Outcome{Verdict: VerdictUnknown, Detail: fmt.Sprintf("unexpected status result %T", res)}, true
	case errors.Is(err, submit.ErrTransactionNotFound):
		return Outcome{}, false
	default:
		return Outcome{Verdict: VerdictUnknown, Detail: fmt.Sprintf("status lookup failed: %v", err)}, true
	}
}
