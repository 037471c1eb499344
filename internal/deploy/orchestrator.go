// Package deploy runs the asset deployment workflow: provision keys, fund the accounts,
// build the issuing transaction, submit it and confirm it, with retries that never risk a
// second issuance.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/funding"
	"github.com/mtlprog/tokenize/internal/horizon"
	"github.com/mtlprog/tokenize/internal/keypair"
	"github.com/mtlprog/tokenize/internal/retry"
	"github.com/mtlprog/tokenize/internal/submit"
	"github.com/mtlprog/tokenize/internal/tokenomics"
	"github.com/mtlprog/tokenize/internal/txbuild"
)

// Config tunes the workflow.
type Config struct {
	FeePerOperation int64
	TxTimeout       time.Duration
	MaxRetries      int
	Backoff         retry.Backoff
	Timeout         time.Duration
	MintOnDeploy    bool
	ReconcileGrace  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FeePerOperation: txbuild.MinBaseFee,
		TxTimeout:       60 * time.Second,
		MaxRetries:      3,
		Backoff:         retry.Default,
		Timeout:         3 * time.Minute,
		MintOnDeploy:    true,
		ReconcileGrace:  5 * time.Second,
	}
}

// KeyGenerator creates new account keys.
type KeyGenerator interface {
	Generate() (*keypair.Keypair, error)
}

// Submitter sends signed transactions and checks their status.
type Submitter interface {
	StatusChecker
	Send(ctx context.Context, unsigned domain.UnsignedTransaction, signers []*keypair.Keypair) (submit.Result, error)
	Await(ctx context.Context, hash string) submit.Result
}

// Recorder persists deployment progress.
type Recorder interface {
	Save(ctx context.Context, d domain.Deployment) error
}

// Metrics observes the workflow.
type Metrics interface {
	Transition(from, to domain.Phase)
	Retry(step string)
	Outcome(status domain.DeploymentStatus, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Transition(domain.Phase, domain.Phase)          {}
func (noopMetrics) Retry(string)                                   {}
func (noopMetrics) Outcome(domain.DeploymentStatus, time.Duration) {}

// Params are the caller's deployment inputs. Issuer and Distributor are optional custody
// keys; when nil, fresh keys are generated and discarded at the end unless KeepKeys is set.
type Params struct {
	AssetCode     string
	TotalValue    decimal.Decimal
	TotalSupply   decimal.Decimal
	MinInvestment decimal.Decimal

	Issuer      *keypair.Keypair
	Distributor *keypair.Keypair
	KeepKeys    bool
}

// Keys are the generated account keys, returned only when Params.KeepKeys is set.
type Keys struct {
	Issuer      *keypair.Keypair
	Distributor *keypair.Keypair
}

// Result is the terminal outcome of a deployment.
type Result struct {
	ID              uuid.UUID               `json:"id"`
	Status          domain.DeploymentStatus `json:"status"`
	TransactionHash string                  `json:"transactionHash,omitempty"`
	Reason          string                  `json:"reason,omitempty"`
	Detail          string                  `json:"detail,omitempty"`
	LastKnownState  domain.Phase            `json:"lastKnownState,omitempty"`
	ErrorCode       string                  `json:"errorCode,omitempty"`
	OperationIndex  *int                    `json:"operationIndex,omitempty"`
	AssetCode       string                  `json:"assetCode"`
	Issuer          string                  `json:"issuer,omitempty"`
	Distributor     string                  `json:"distributor,omitempty"`
	Ledger          int32                   `json:"ledger,omitempty"`
	ClosedAt        *time.Time              `json:"closedAt,omitempty"`
	Quote           *tokenomics.Quote       `json:"quote,omitempty"`

	Keys *Keys `json:"-"`
	Err  error `json:"-"`
}

// Orchestrator runs deployments. It holds no per-deployment state and is safe for
// concurrent use.
type Orchestrator struct {
	keys       KeyGenerator
	funder     funding.Funder
	accounts   AccountLoader
	submitter  Submitter
	builder    *txbuild.Builder
	reconciler *Reconciler
	recorder   Recorder
	metrics    Metrics
	clock      func() time.Time
	cfg        Config
	custody    Keys
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder persists every phase change.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics reports transitions, retries and outcomes.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCustodyKeys makes deployments without their own keys use pre-funded issuer and
// distribution accounts instead of generating fresh ones.
func WithCustodyKeys(issuer, distributor *keypair.Keypair) Option {
	return func(o *Orchestrator) { o.custody = Keys{Issuer: issuer, Distributor: distributor} }
}

// WithClock replaces the wall clock used for time bounds and reconciliation.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(keys KeyGenerator, funder funding.Funder, accounts AccountLoader, submitter Submitter, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		keys:      keys,
		funder:    funder,
		accounts:  accounts,
		submitter: submitter,
		metrics:   noopMetrics{},
		clock:     time.Now,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.builder = txbuild.NewBuilder(o.clock)
	o.reconciler = NewReconciler(submitter, accounts, cfg.ReconcileGrace, o.clock)
	return o
}

// Reconciler returns the reconciler used after ambiguous submissions.
func (o *Orchestrator) Reconciler() *Reconciler {
	return o.reconciler
}

// run is the per-deployment working set. It is owned by a single Deploy call.
type run struct {
	id          uuid.UUID
	params      Params
	quote       tokenomics.Quote
	issuer      *keypair.Keypair
	distributor *keypair.Keypair
	generated   bool
	ops         []domain.Operation
	createdAt   time.Time
}

// Deploy runs one deployment to a terminal outcome within the configured overall timeout.
// Validation failures return immediately without touching the network.
func (o *Orchestrator) Deploy(ctx context.Context, p Params) Result {
	r := &run{id: uuid.New(), params: p, createdAt: o.clock()}

	if err := domain.ValidateAssetCode(p.AssetCode); err != nil {
		return invalidResult(r, err)
	}
	quote, err := tokenomics.Compute(p.TotalValue, p.TotalSupply, p.MinInvestment)
	if err != nil {
		return invalidResult(r, err)
	}
	r.quote = quote

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	defer func() {
		if r.generated && !p.KeepKeys {
			keypair.DiscardAll(r.issuer, r.distributor)
		}
	}()

	slog.Info("deployment: starting", "id", r.id, "asset", p.AssetCode, "supply", p.TotalSupply)

	s, eff := Start(o.cfg.MaxRetries)
	o.record(ctx, r, s)

	for {
		if _, done := eff.(Finish); done {
			break
		}

		var ev Event
		if err := ctx.Err(); err != nil {
			ev = Aborted{Cause: err}
		} else {
			ev = o.perform(ctx, r, s, eff)
			if err := ctx.Err(); err != nil && !settled(ev) {
				ev = Aborted{Cause: err}
			}
		}

		next, nextEff := Transition(s, ev)
		if next.Phase != s.Phase {
			o.metrics.Transition(s.Phase, next.Phase)
			slog.Info("deployment: state changed", "id", r.id, "from", s.Phase, "to", next.Phase)
		}
		if next.Phase != s.Phase || next.TxHash != s.TxHash {
			o.record(ctx, r, next)
		}
		s, eff = next, nextEff
	}

	res := o.result(r, s)
	o.metrics.Outcome(res.Status, o.clock().Sub(r.createdAt))
	logOutcome(res)
	return res
}

// settled reports whether ev is a final ledger answer that stands even if the deadline
// passed while it was being fetched.
func settled(ev Event) bool {
	switch e := ev.(type) {
	case Submitted:
		_, ok := e.Result.(submit.Confirmed)
		if !ok {
			_, ok = e.Result.(submit.Rejected)
		}
		return ok
	case Reconciled:
		return e.Outcome.Verdict == VerdictConfirmed || e.Outcome.Verdict == VerdictRejected
	}
	return false
}

func (o *Orchestrator) perform(ctx context.Context, r *run, s State, eff Effect) Event {
	switch e := eff.(type) {
	case GenerateKeypairs:
		return o.generateKeypairs(r)
	case FundAccounts:
		if e.Attempt > 0 {
			o.metrics.Retry("funding")
			if err := retry.Sleep(ctx, o.cfg.Backoff.Delay(e.Attempt-1)); err != nil {
				return Aborted{Cause: err}
			}
		}
		return o.fund(ctx, r)
	case VerifyAccounts:
		return o.verifyAccounts(ctx, r)
	case BuildTransaction:
		if e.Attempt > 0 {
			o.metrics.Retry("submission")
			if err := retry.Sleep(ctx, o.cfg.Backoff.Delay(e.Attempt-1)); err != nil {
				return Aborted{Cause: err}
			}
		}
		return o.build(ctx, r)
	case SendTransaction:
		res, err := o.submitter.Send(ctx, *s.Tx, []*keypair.Keypair{r.distributor, r.issuer})
		if err != nil {
			return BuildFailed{Err: err}
		}
		return Submitted{Result: res}
	case AwaitConfirmation:
		return Submitted{Result: o.submitter.Await(ctx, e.Hash)}
	case Reconcile:
		slog.Warn("deployment: submission outcome unknown, reconciling", "id", r.id, "hash", e.Ref.Hash, "cause", s.Err)
		return Reconciled{Outcome: o.reconciler.Check(ctx, e.Ref, true)}
	}
	return KeypairFailed{Err: fmt.Errorf("unknown effect %T", eff)}
}

func (o *Orchestrator) generateKeypairs(r *run) Event {
	p := r.params
	switch {
	case p.Issuer != nil && p.Distributor != nil:
		r.issuer, r.distributor = p.Issuer, p.Distributor
	case o.custody.Issuer != nil && o.custody.Distributor != nil:
		r.issuer, r.distributor = o.custody.Issuer, o.custody.Distributor
	default:
		issuer, err := o.keys.Generate()
		if err != nil {
			return KeypairFailed{Err: err}
		}
		distributor, err := o.keys.Generate()
		if err != nil {
			issuer.Discard()
			return KeypairFailed{Err: err}
		}
		r.issuer, r.distributor, r.generated = issuer, distributor, true
	}

	asset, err := domain.NewAssetDefinition(p.AssetCode, r.issuer.Address())
	if err != nil {
		return KeypairFailed{Err: err}
	}
	trust, err := domain.NewTrustlineOperation(asset, p.TotalSupply)
	if err != nil {
		return KeypairFailed{Err: err}
	}
	r.ops = []domain.Operation{trust}
	if o.cfg.MintOnDeploy {
		r.ops = append(r.ops, domain.PaymentOperation{
			Destination:   r.distributor.Address(),
			Asset:         asset,
			Amount:        p.TotalSupply,
			SourceAccount: r.issuer.Address(),
		})
	}
	return KeypairsReady{}
}

func (o *Orchestrator) fund(ctx context.Context, r *run) Event {
	for _, kp := range []*keypair.Keypair{r.issuer, r.distributor} {
		funded, err := o.funder.Fund(ctx, kp.Address())
		if err != nil {
			return FundingFailed{Err: err, Unreachable: funding.IsUnreachable(err)}
		}
		slog.Info("deployment: account funded", "id", r.id, "account", kp.Address(), "already_existed", funded.AlreadyExisted)
	}
	return Funded{}
}

// verifyAccounts checks whether funding landed even though the funder gave up.
func (o *Orchestrator) verifyAccounts(ctx context.Context, r *run) Event {
	for _, kp := range []*keypair.Keypair{r.issuer, r.distributor} {
		if _, err := o.accounts.LoadSnapshot(ctx, kp.Address()); err != nil {
			if !errors.Is(err, horizon.ErrNotFound) {
				return AccountsChecked{Present: false, Err: err}
			}
			return AccountsChecked{Present: false}
		}
	}
	return AccountsChecked{Present: true}
}

func (o *Orchestrator) build(ctx context.Context, r *run) Event {
	snap, err := o.accounts.LoadSnapshot(ctx, r.distributor.Address())
	if err != nil {
		return BuildFailed{Err: fmt.Errorf("loading account snapshot: %w", err), Transient: true}
	}
	tx, err := o.builder.Build(snap, r.ops, o.cfg.FeePerOperation, o.cfg.TxTimeout)
	if err != nil {
		return BuildFailed{Err: err}
	}
	return Built{Tx: tx}
}

// record saves progress. Failures are logged and never fail the deployment.
func (o *Orchestrator) record(ctx context.Context, r *run, s State) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := o.recorder.Save(ctx, o.deployment(r, s)); err != nil {
		slog.Error("deployment: failed to record progress", "id", r.id, "phase", s.Phase, "error", err)
	}
}

func (o *Orchestrator) deployment(r *run, s State) domain.Deployment {
	d := domain.Deployment{
		ID:              r.id,
		AssetCode:       r.params.AssetCode,
		TotalValue:      r.params.TotalValue,
		TotalSupply:     r.params.TotalSupply,
		MinInvestment:   r.params.MinInvestment,
		Phase:           s.Active,
		Status:          statusOf(s.Phase),
		TransactionHash: s.TxHash,
		Ledger:          s.Ledger,
		Reason:          s.Reason,
		Detail:          s.Detail,
		ErrorCode:       s.ErrorCode,
		OperationIndex:  s.OperationIndex,
		CreatedAt:       r.createdAt,
		UpdatedAt:       o.clock(),
	}
	if s.Phase == domain.PhaseConfirmed {
		d.Phase = domain.PhaseConfirmed
	}
	if r.issuer != nil {
		d.Issuer = r.issuer.Address()
		d.Distributor = r.distributor.Address()
	}
	if s.Tx != nil {
		d.TxSequence = s.Tx.Sequence
		d.TxMaxTime = s.Tx.TimeBounds.MaxTime
	}
	return d
}

func (o *Orchestrator) result(r *run, s State) Result {
	res := Result{
		ID:              r.id,
		Status:          statusOf(s.Phase),
		TransactionHash: s.TxHash,
		Reason:          s.Reason,
		Detail:          s.Detail,
		ErrorCode:       s.ErrorCode,
		OperationIndex:  s.OperationIndex,
		AssetCode:       r.params.AssetCode,
		Ledger:          s.Ledger,
		Quote:           &r.quote,
		Err:             s.Err,
	}
	if s.Phase != domain.PhaseConfirmed {
		res.LastKnownState = s.Active
	}
	if !s.ClosedAt.IsZero() {
		closed := s.ClosedAt
		res.ClosedAt = &closed
	}
	if r.issuer != nil {
		res.Issuer = r.issuer.Address()
		res.Distributor = r.distributor.Address()
	}
	if r.generated && r.params.KeepKeys {
		res.Keys = &Keys{Issuer: r.issuer, Distributor: r.distributor}
	}
	return res
}

func invalidResult(r *run, err error) Result {
	return Result{
		ID:             r.id,
		Status:         domain.StatusFailed,
		Reason:         "invalid input",
		Detail:         err.Error(),
		LastKnownState: domain.PhaseInitializing,
		AssetCode:      r.params.AssetCode,
		Err:            err,
	}
}

func statusOf(p domain.Phase) domain.DeploymentStatus {
	switch p {
	case domain.PhaseConfirmed:
		return domain.StatusConfirmed
	case domain.PhaseFailed:
		return domain.StatusFailed
	case domain.PhaseIndeterminate:
		return domain.StatusIndeterminate
	default:
		return domain.StatusInProgress
	}
}

func logOutcome(res Result) {
	attrs := []any{"id", res.ID, "status", res.Status, "hash", res.TransactionHash}
	switch res.Status {
	case domain.StatusConfirmed:
		slog.Info("deployment: confirmed", attrs...)
	case domain.StatusIndeterminate:
		slog.Error("deployment: outcome indeterminate", append(attrs, "state", res.LastKnownState, "detail", res.Detail)...)
	default:
		slog.Warn("deployment: failed", append(attrs, "reason", res.Reason, "state", res.LastKnownState, "detail", res.Detail)...)
	}
}
