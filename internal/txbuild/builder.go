// Package txbuild assembles unsigned ledger transactions from an account snapshot and converts
// them into Stellar envelopes. It performs no network I/O.
package txbuild

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/stellar/go-stellar-sdk/txnbuild"

	"github.com/mtlprog/tokenize/internal/domain"
)

// MinBaseFee is the network minimum fee per operation, in stroops.
const MinBaseFee = txnbuild.MinBaseFee

// Builder assembles UnsignedTransactions. The zero value uses the wall clock.
type Builder struct {
	clock func() time.Time
}

// NewBuilder creates a Builder reading time from clock. A nil clock means time.Now.
func NewBuilder(clock func() time.Time) *Builder {
	return &Builder{clock: clock}
}

func (b *Builder) now() time.Time {
	if b == nil || b.clock == nil {
		return time.Now()
	}
	return b.clock()
}

// Build assembles a transaction consuming snapshot. The sequence is snapshot.Sequence + 1,
// the fee is feePerOperation * len(ops) and the upper time bound is now + timeout.
// A snapshot can build exactly one transaction; a second attempt returns a BuildError
// wrapping domain.ErrSnapshotConsumed.
func (b *Builder) Build(snapshot *domain.AccountSnapshot, ops []domain.Operation, feePerOperation int64, timeout time.Duration) (domain.UnsignedTransaction, error) {
	if snapshot == nil {
		return domain.UnsignedTransaction{}, &domain.BuildError{Err: fmt.Errorf("nil account snapshot")}
	}
	if len(ops) == 0 {
		return domain.UnsignedTransaction{}, &domain.BuildError{Err: domain.ErrEmptyOperationList}
	}
	if feePerOperation < MinBaseFee {
		return domain.UnsignedTransaction{}, &domain.BuildError{
			Err: fmt.Errorf("%w: %d < %d", domain.ErrFeeTooLow, feePerOperation, MinBaseFee),
		}
	}
	if timeout <= 0 {
		return domain.UnsignedTransaction{}, &domain.BuildError{Err: fmt.Errorf("timeout must be positive, got %s", timeout)}
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return domain.UnsignedTransaction{}, &domain.BuildError{Err: fmt.Errorf("operation %d: %w", i, err)}
		}
	}
	if err := snapshot.Consume(); err != nil {
		return domain.UnsignedTransaction{}, &domain.BuildError{Err: err}
	}

	return domain.UnsignedTransaction{
		SourceAccount: snapshot.AccountID,
		Sequence:      snapshot.Sequence + 1,
		Operations:    append([]domain.Operation(nil), ops...),
		Fee:           feePerOperation * int64(len(ops)),
		TimeBounds: domain.TimeBounds{
			MinTime: 0,
			MaxTime: b.now().Add(timeout).Unix(),
		},
	}, nil
}

// Envelope converts an UnsignedTransaction into an unsigned Stellar transaction with the
// exact sequence number and time bounds recorded at build time.
func Envelope(unsigned domain.UnsignedTransaction) (*txnbuild.Transaction, error) {
	if len(unsigned.Operations) == 0 {
		return nil, &domain.BuildError{Err: domain.ErrEmptyOperationList}
	}

	ops := make([]txnbuild.Operation, 0, len(unsigned.Operations))
	for i, op := range unsigned.Operations {
		converted, err := toStellarOperation(op)
		if err != nil {
			return nil, &domain.BuildError{Err: fmt.Errorf("operation %d: %w", i, err)}
		}
		ops = append(ops, converted)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{
			AccountID: unsigned.SourceAccount,
			Sequence:  unsigned.Sequence,
		},
		IncrementSequenceNum: false,
		Operations:           ops,
		BaseFee:              unsigned.Fee / int64(len(ops)),
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimebounds(unsigned.TimeBounds.MinTime, unsigned.TimeBounds.MaxTime),
		},
	})
	if err != nil {
		return nil, &domain.BuildError{Err: fmt.Errorf("creating envelope: %w", err)}
	}
	return tx, nil
}

// Hash returns the hex transaction hash of unsigned on the network identified by passphrase.
// Signatures do not change the hash.
func Hash(unsigned domain.UnsignedTransaction, passphrase string) (string, error) {
	tx, err := Envelope(unsigned)
	if err != nil {
		return "", err
	}
	hash, err := tx.HashHex(passphrase)
	if err != nil {
		return "", fmt.Errorf("hashing transaction: %w", err)
	}
	return hash, nil
}

func toStellarOperation(op domain.Operation) (txnbuild.Operation, error) {
	switch o := op.(type) {
	case domain.TrustlineOperation:
		line, err := creditAsset(o.Asset).ToChangeTrustAsset()
		if err != nil {
			return nil, fmt.Errorf("converting trust line asset: %w", err)
		}
		return &txnbuild.ChangeTrust{
			Line:          line,
			Limit:         domain.FormatAmount(o.Limit),
			SourceAccount: o.SourceAccount,
		}, nil
	case domain.PaymentOperation:
		return &txnbuild.Payment{
			Destination:   o.Destination,
			Amount:        domain.FormatAmount(o.Amount),
			Asset:         creditAsset(o.Asset),
			SourceAccount: o.SourceAccount,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported operation type %T", op)
	}
}

func creditAsset(a domain.AssetDefinition) txnbuild.CreditAsset {
	return txnbuild.CreditAsset{Code: a.Code, Issuer: a.Issuer}
}

// Signers returns the distinct accounts whose signatures unsigned requires, transaction
// source first.
func Signers(unsigned domain.UnsignedTransaction) []string {
	sources := lo.FilterMap(unsigned.Operations, func(op domain.Operation, _ int) (string, bool) {
		return op.Source(), op.Source() != ""
	})
	return lo.Uniq(append([]string{unsigned.SourceAccount}, sources...))
}
