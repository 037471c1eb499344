// Package funding gives a newly provisioned account its starting balance (Friendbot on test
// networks) or verifies that a production account already holds the minimum reserve.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/horizon"
	"github.com/mtlprog/tokenize/internal/retry"
)

// Kind classifies a funding failure.
type Kind string

const (
	// KindUnreachable means transient failures persisted past the retry budget.
	KindUnreachable Kind = "unreachable"
	// KindRejected means the funding source refused the account; never retried.
	KindRejected Kind = "rejected"
)

// Error is a categorised funding failure.
type Error struct {
	Kind      Kind
	AccountID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("funding %s %s: %v", e.AccountID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsUnreachable reports whether err is a funding failure caused by transient errors.
func IsUnreachable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindUnreachable
}

// IsRejected reports whether err is a fatal funding rejection.
func IsRejected(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindRejected
}

// Funder makes sure an account exists on the ledger with a usable balance.
type Funder interface {
	Fund(ctx context.Context, accountID string) (domain.FundedAccount, error)
}

// Policy bounds the retries of transient funding failures.
type Policy struct {
	MaxRetries int
	Backoff    retry.Backoff
}

// DefaultPolicy retries 3 times with 1s/2s/4s waits.
var DefaultPolicy = Policy{MaxRetries: 3, Backoff: retry.Default}

// errTransient marks an attempt failure that may succeed when repeated.
type errTransient struct{ err error }

func (e errTransient) Error() string { return e.err.Error() }
func (e errTransient) Unwrap() error { return e.err }

// withRetry runs attempt until it succeeds, fails permanently or the retry budget is spent.
func withRetry(ctx context.Context, policy Policy, accountID string, attempt func() (domain.FundedAccount, error)) (domain.FundedAccount, error) {
	var lastErr error
	for n := range policy.MaxRetries + 1 {
		if n > 0 {
			delay := policy.Backoff.Delay(n - 1)
			slog.Warn("funding: retrying after transient failure",
				"account", accountID, "attempt", n+1, "delay", delay, "error", lastErr)
			if err := retry.Sleep(ctx, delay); err != nil {
				return domain.FundedAccount{}, err
			}
		}

		funded, err := attempt()
		if err == nil {
			return funded, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.FundedAccount{}, ctxErr
		}

		var transient errTransient
		if !errors.As(err, &transient) {
			return domain.FundedAccount{}, &Error{Kind: KindRejected, AccountID: accountID, Err: err}
		}
		lastErr = transient.err
	}

	return domain.FundedAccount{}, &Error{
		Kind:      KindUnreachable,
		AccountID: accountID,
		Err:       fmt.Errorf("gave up after %d attempts: %w", policy.MaxRetries+1, lastErr),
	}
}

// AccountLoader loads the current ledger state of an account.
type AccountLoader interface {
	LoadSnapshot(ctx context.Context, accountID string) (*domain.AccountSnapshot, error)
}

// ReserveFunder is the production funder: it never creates funds, only checks that the
// account exists and holds at least MinReserve of the native asset.
type ReserveFunder struct {
	accounts   AccountLoader
	minReserve decimal.Decimal
	policy     Policy
}

// NewReserveFunder creates a ReserveFunder.
func NewReserveFunder(accounts AccountLoader, minReserve decimal.Decimal, policy Policy) *ReserveFunder {
	return &ReserveFunder{accounts: accounts, minReserve: minReserve, policy: policy}
}

// Fund verifies the reserve of accountID.
func (f *ReserveFunder) Fund(ctx context.Context, accountID string) (domain.FundedAccount, error) {
	return withRetry(ctx, f.policy, accountID, func() (domain.FundedAccount, error) {
		snap, err := f.accounts.LoadSnapshot(ctx, accountID)
		if err != nil {
			if errors.Is(err, horizon.ErrNotFound) {
				return domain.FundedAccount{}, fmt.Errorf("account does not exist")
			}
			if horizon.IsTransportError(err) || isServerError(err) {
				return domain.FundedAccount{}, errTransient{err}
			}
			return domain.FundedAccount{}, err
		}
		if snap.NativeBalance.LessThan(f.minReserve) {
			return domain.FundedAccount{}, fmt.Errorf("native balance %s below required reserve %s",
				snap.NativeBalance, f.minReserve)
		}
		return domain.FundedAccount{
			AccountID:      accountID,
			NativeBalance:  snap.NativeBalance,
			AlreadyExisted: true,
		}, nil
	})
}

func isServerError(err error) bool {
	var se *horizon.StatusError
	return errors.As(err, &se) && (se.StatusCode >= 500 || se.StatusCode == 429)
}
