package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stellarkp "github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/txnbuild"

	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/horizon"
	"github.com/mtlprog/tokenize/internal/keypair"
	"github.com/mtlprog/tokenize/internal/retry"
	"github.com/mtlprog/tokenize/internal/txbuild"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 15
)

// Ledger is the subset of Horizon the submitter talks to.
type Ledger interface {
	SubmitTransactionAsync(ctx context.Context, envelopeXDR string) (horizon.AsyncSubmission, error)
	FetchTransaction(ctx context.Context, hash string) (horizon.HorizonTransaction, error)
}

// Submitter signs transactions, submits them and polls for confirmation.
type Submitter struct {
	ledger       Ledger
	passphrase   string
	pollInterval time.Duration
	pollAttempts int
}

// NewSubmitter creates a Submitter. Non-positive poll settings fall back to 2s and 15 attempts.
func NewSubmitter(ledger Ledger, passphrase string, pollInterval time.Duration, pollAttempts int) *Submitter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if pollAttempts <= 0 {
		pollAttempts = DefaultPollAttempts
	}
	return &Submitter{
		ledger:       ledger,
		passphrase:   passphrase,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}
}

// Passphrase returns the network passphrase transactions are signed for.
func (s *Submitter) Passphrase() string {
	return s.passphrase
}

// Submit signs unsigned with every signer in order, submits it and waits for a terminal
// outcome. The returned Result is never Pending. The error is reserved for local failures
// (envelope conversion, signing) that happen before anything reaches the network.
func (s *Submitter) Submit(ctx context.Context, unsigned domain.UnsignedTransaction, signers []*keypair.Keypair) (Result, error) {
	res, err := s.Send(ctx, unsigned, signers)
	if err != nil {
		return nil, err
	}
	pending, ok := res.(Pending)
	if !ok {
		return res, nil
	}
	return s.Await(ctx, pending.PollToken), nil
}

// Send signs and posts the transaction once without polling.
func (s *Submitter) Send(ctx context.Context, unsigned domain.UnsignedTransaction, signers []*keypair.Keypair) (Result, error) {
	tx, err := txbuild.Envelope(unsigned)
	if err != nil {
		return nil, err
	}
	hash, err := tx.HashHex(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("hashing transaction: %w", err)
	}

	tx, err = s.sign(tx, signers)
	if err != nil {
		return nil, err
	}
	envelope, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	slog.Info("submitting transaction", "hash", hash, "source", unsigned.SourceAccount, "sequence", unsigned.Sequence)

	sub, err := s.ledger.SubmitTransactionAsync(ctx, envelope)
	if err != nil {
		return NetworkFailure{Hash: hash, Cause: err}, nil
	}
	if sub.Hash != "" && sub.Hash != hash {
		slog.Warn("ledger reported a different transaction hash", "expected", hash, "got", sub.Hash)
	}

	switch sub.TxStatus {
	case horizon.TxStatusPending, horizon.TxStatusDuplicate:
		return Pending{PollToken: hash}, nil
	case horizon.TxStatusError:
		return decodeRejection(hash, sub.ErrorResultXDR), nil
	case horizon.TxStatusTryAgainLater:
		return NetworkFailure{Hash: hash, Cause: ErrTryAgainLater}, nil
	default:
		return NetworkFailure{Hash: hash, Cause: fmt.Errorf("unknown submission status %q", sub.TxStatus)}, nil
	}
}

// sign adds one signature per signer, each inside the keypair's signing scope.
func (s *Submitter) sign(tx *txnbuild.Transaction, signers []*keypair.Keypair) (*txnbuild.Transaction, error) {
	if len(signers) == 0 {
		return nil, &domain.BuildError{Err: errors.New("no signers")}
	}
	for _, signer := range signers {
		err := signer.WithSigner(func(full *stellarkp.Full) error {
			signed, err := tx.Sign(s.passphrase, full)
			if err != nil {
				return err
			}
			tx = signed
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("signing with %s: %w", signer.Address(), err)
		}
	}
	return tx, nil
}

// Await polls the status endpoint every poll interval until the transaction lands in a
// closed ledger or the attempts run out. Exhaustion yields NetworkFailure wrapping
// ErrConfirmationTimeout.
func (s *Submitter) Await(ctx context.Context, hash string) Result {
	for attempt := 1; attempt <= s.pollAttempts; attempt++ {
		if err := retry.Sleep(ctx, s.pollInterval); err != nil {
			return NetworkFailure{Hash: hash, Cause: err}
		}

		res, err := s.Status(ctx, hash)
		if err == nil {
			return res
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NetworkFailure{Hash: hash, Cause: ctxErr}
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			slog.Warn("transaction status lookup failed", "hash", hash, "attempt", attempt, "error", err)
		}
	}
	return NetworkFailure{Hash: hash, Cause: ErrConfirmationTimeout}
}

// Status performs one lookup by hash. It returns Confirmed or Rejected when the
// transaction is in a closed ledger, ErrTransactionNotFound when it is not, and any other
// error when the lookup itself failed.
func (s *Submitter) Status(ctx context.Context, hash string) (Result, error) {
	tx, err := s.ledger.FetchTransaction(ctx, hash)
	if err != nil {
		if errors.Is(err, horizon.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, hash)
		}
		return nil, err
	}
	if !tx.Successful {
		return decodeRejection(hash, tx.ResultXDR), nil
	}

	closeTime, err := time.Parse(time.RFC3339, tx.CreatedAt)
	if err != nil {
		slog.Warn("unparseable ledger close time", "hash", hash, "created_at", tx.CreatedAt)
	}
	return Confirmed{Hash: hash, Ledger: tx.Ledger, CloseTime: closeTime}, nil
}
