package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/submit"
)

// State is everything the workflow knows between two steps.
type State struct {
	Phase domain.Phase
	// Active is the last non-terminal phase reached.
	Active domain.Phase

	MaxRetries      int
	FundingRetries  int
	SnapshotRetries int
	SubmitRetries   int

	Tx     *domain.UnsignedTransaction
	TxHash string

	Ledger         int32
	ClosedAt       time.Time
	Reason         string
	Detail         string
	ErrorCode      string
	OperationIndex *int
	Err            error
}

// NewState returns the initial state with the given retry budget per step.
func NewState(maxRetries int) State {
	return State{Phase: domain.PhaseInitializing, Active: domain.PhaseInitializing, MaxRetries: maxRetries}
}

// Event is the observed outcome of performing an Effect.
type Event interface{ isEvent() }

type (
	// KeypairsReady means both account keys exist.
	KeypairsReady struct{}
	// KeypairFailed means the entropy source failed.
	KeypairFailed struct{ Err error }
	// Funded means both accounts hold a usable balance.
	Funded struct{}
	// FundingFailed carries a funding error. Unreachable failures may be retried.
	FundingFailed struct {
		Err         error
		Unreachable bool
	}
	// AccountsChecked reports whether both accounts exist on the ledger.
	AccountsChecked struct {
		Present bool
		Err     error
	}
	// Built carries the assembled transaction.
	Built struct{ Tx domain.UnsignedTransaction }
	// BuildFailed is a fatal assembly or signing failure, or a transient snapshot load failure.
	BuildFailed struct {
		Err       error
		Transient bool
	}
	// Submitted carries a submission or polling result.
	Submitted struct{ Result submit.Result }
	// Reconciled carries the verdict of a status check by hash.
	Reconciled struct{ Outcome Outcome }
	// Aborted means the overall deadline passed or the caller cancelled.
	Aborted struct{ Cause error }
)

func (KeypairsReady) isEvent()   {}
func (KeypairFailed) isEvent()   {}
func (Funded) isEvent()          {}
func (FundingFailed) isEvent()   {}
func (AccountsChecked) isEvent() {}
func (Built) isEvent()           {}
func (BuildFailed) isEvent()     {}
func (Submitted) isEvent()       {}
func (Reconciled) isEvent()      {}
func (Aborted) isEvent()         {}

// Effect is the side effect the orchestrator performs next.
type Effect interface{ isEffect() }

type (
	GenerateKeypairs struct{}
	// FundAccounts funds both accounts; Attempt > 0 waits for backoff first.
	FundAccounts struct{ Attempt int }
	// VerifyAccounts re-fetches both accounts after an unreachable funding source.
	VerifyAccounts struct{}
	// BuildTransaction loads a fresh snapshot and builds; Attempt > 0 waits for backoff first.
	BuildTransaction  struct{ Attempt int }
	SendTransaction   struct{}
	AwaitConfirmation struct{ Hash string }
	// Reconcile establishes whether the transaction landed before anything is resubmitted.
	Reconcile struct{ Ref TxRef }
	Finish    struct{}
)

func (GenerateKeypairs) isEffect()  {}
func (FundAccounts) isEffect()      {}
func (VerifyAccounts) isEffect()    {}
func (BuildTransaction) isEffect()  {}
func (SendTransaction) isEffect()   {}
func (AwaitConfirmation) isEffect() {}
func (Reconcile) isEffect()         {}
func (Finish) isEffect()            {}

// Start returns the first effect of a new workflow.
func Start(maxRetries int) (State, Effect) {
	return NewState(maxRetries), GenerateKeypairs{}
}

// Transition computes the next state and effect. It has no side effects.
func Transition(s State, ev Event) (State, Effect) {
	if s.Phase.Terminal() {
		return s, Finish{}
	}
	if a, ok := ev.(Aborted); ok {
		return fail(s, abortReason(a.Cause), a.Cause)
	}

	switch s.Phase {
	case domain.PhaseInitializing:
		switch e := ev.(type) {
		case KeypairsReady:
			return advance(s, domain.PhaseKeypairGenerated), FundAccounts{}
		case KeypairFailed:
			return fail(s, "keypair generation failed", e.Err)
		}

	case domain.PhaseKeypairGenerated:
		switch e := ev.(type) {
		case Funded:
			return advance(s, domain.PhaseAccountFunded), BuildTransaction{}
		case FundingFailed:
			if !e.Unreachable {
				return fail(s, "funding rejected", e.Err)
			}
			s.Err = e.Err
			return s, VerifyAccounts{}
		case AccountsChecked:
			if e.Present {
				s.Err = nil
				return advance(s, domain.PhaseAccountFunded), BuildTransaction{}
			}
			if e.Err != nil {
				s.Err = errors.Join(s.Err, e.Err)
				s.Detail = fmt.Sprintf("account presence unknown after funding failure: %v", e.Err)
				return indeterminate(s), Finish{}
			}
			if s.FundingRetries >= s.MaxRetries {
				return fail(s, "funding source unreachable", s.Err)
			}
			s.FundingRetries++
			return s, FundAccounts{Attempt: s.FundingRetries}
		}

	case domain.PhaseAccountFunded:
		switch e := ev.(type) {
		case Built:
			tx := e.Tx
			s.Tx = &tx
			return advance(s, domain.PhaseTransactionBuilt), SendTransaction{}
		case BuildFailed:
			if e.Transient && s.SnapshotRetries < s.MaxRetries {
				s.SnapshotRetries++
				return s, BuildTransaction{Attempt: s.SnapshotRetries}
			}
			if e.Transient {
				return fail(s, "account snapshot unavailable", e.Err)
			}
			return fail(s, "transaction build failed", e.Err)
		}

	case domain.PhaseTransactionBuilt, domain.PhaseSubmitted:
		switch e := ev.(type) {
		case Submitted:
			return onSubmitted(s, e.Result)
		case Reconciled:
			return onReconciled(s, e.Outcome)
		case BuildFailed:
			return fail(s, "transaction signing failed", e.Err)
		}
	}

	return fail(s, fmt.Sprintf("unexpected event %T in phase %s", ev, s.Phase), nil)
}

func onSubmitted(s State, res submit.Result) (State, Effect) {
	if h := res.TxHash(); h != "" {
		s.TxHash = h
	}
	switch r := res.(type) {
	case submit.Pending:
		return advance(s, domain.PhaseSubmitted), AwaitConfirmation{Hash: r.PollToken}
	case submit.Confirmed:
		return confirm(s, r), Finish{}
	case submit.Rejected:
		return reject(s, r), Finish{}
	case submit.NetworkFailure:
		s.Err = r.Cause
		if s.TxHash == "" || s.Tx == nil {
			return fail(s, "submission failed before a transaction hash was known", r.Cause)
		}
		return s, Reconcile{Ref: refOf(s)}
	}
	return fail(s, fmt.Sprintf("unexpected submission result %T", res), nil)
}

func onReconciled(s State, o Outcome) (State, Effect) {
	switch o.Verdict {
	case VerdictConfirmed:
		if c, ok := o.Result.(submit.Confirmed); ok {
			return confirm(s, c), Finish{}
		}
	case VerdictRejected:
		if r, ok := o.Result.(submit.Rejected); ok {
			return reject(s, r), Finish{}
		}
	case VerdictAbsent:
		if s.SubmitRetries >= s.MaxRetries {
			return fail(s, fmt.Sprintf("submission failed after %d attempts", s.SubmitRetries+1), s.Err)
		}
		s.SubmitRetries++
		s.Tx = nil
		s.TxHash = ""
		s.Phase = domain.PhaseAccountFunded
		s.Active = domain.PhaseAccountFunded
		return s, BuildTransaction{Attempt: s.SubmitRetries}
	}
	s.Detail = o.Detail
	return indeterminate(s), Finish{}
}

func refOf(s State) TxRef {
	return TxRef{
		Hash:          s.TxHash,
		SourceAccount: s.Tx.SourceAccount,
		Sequence:      s.Tx.Sequence,
		MaxTime:       s.Tx.TimeBounds.MaxTime,
	}
}

func advance(s State, p domain.Phase) State {
	s.Phase = p
	s.Active = p
	return s
}

func confirm(s State, c submit.Confirmed) State {
	s.Phase = domain.PhaseConfirmed
	s.TxHash = c.Hash
	s.Ledger = c.Ledger
	s.ClosedAt = c.CloseTime
	s.Err = nil
	return s
}

func reject(s State, r submit.Rejected) State {
	idx := r.OperationIndex
	s.Phase = domain.PhaseFailed
	s.TxHash = r.Hash
	s.Reason = "rejected by ledger"
	s.ErrorCode = r.Code
	if idx >= 0 {
		s.OperationIndex = &idx
		s.Detail = r.OperationCode
	}
	s.Err = r
	return s
}

func fail(s State, reason string, err error) (State, Effect) {
	s.Phase = domain.PhaseFailed
	s.Reason = reason
	s.Err = err
	if err != nil {
		s.Detail = err.Error()
	}
	return s, Finish{}
}

func indeterminate(s State) State {
	s.Phase = domain.PhaseIndeterminate
	s.Reason = domain.ReasonIndeterminate
	return s
}

func abortReason(cause error) string {
	if errors.Is(cause, context.DeadlineExceeded) {
		return domain.ReasonTimeout
	}
	return "cancelled"
}
