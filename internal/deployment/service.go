package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mtlprog/tokenize/internal/deploy"
	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/submit"
)

// Deployer runs one deployment workflow.
type Deployer interface {
	Deploy(ctx context.Context, p deploy.Params) deploy.Result
}

// Checker settles the outcome of a submitted transaction.
type Checker interface {
	Check(ctx context.Context, ref deploy.TxRef, wait bool) deploy.Outcome
}

// DefaultStaleAfter is how long an in-progress record may go without updates before
// reconciliation treats its process as gone.
const DefaultStaleAfter = 5 * time.Minute

// Service runs deployments and manages their records.
type Service struct {
	deployer   Deployer
	repo       Repository
	checker    Checker
	clock      func() time.Time
	staleAfter time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithStaleAfter sets the idle time after which an in-progress record with a hash is
// reconciled. It must exceed the deployment deadline.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// NewService creates a deployment Service.
func NewService(deployer Deployer, repo Repository, checker Checker, opts ...Option) *Service {
	s := &Service{deployer: deployer, repo: repo, checker: checker, clock: time.Now, staleAfter: DefaultStaleAfter}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deploy runs a deployment. Progress is recorded by the orchestrator itself.
func (s *Service) Deploy(ctx context.Context, p deploy.Params) deploy.Result {
	return s.deployer.Deploy(ctx, p)
}

// Get retrieves a deployment record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	return s.repo.Get(ctx, id)
}

// List retrieves recent deployment records.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Deployment, error) {
	return s.repo.List(ctx, limit)
}

// ReconcileReport counts what a reconciliation pass settled.
type ReconcileReport struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Open      int `json:"open"`
}

// Reconcile re-checks every deployment with an open outcome and records what is now
// provable. It never resubmits anything.
func (s *Service) Reconcile(ctx context.Context, limit int) (ReconcileReport, error) {
	pending, err := s.repo.ListUnresolved(ctx, s.clock().Add(-s.staleAfter), limit)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("listing unresolved deployments: %w", err)
	}

	var report ReconcileReport
	for _, d := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		ref := deploy.TxRef{
			Hash:          d.TransactionHash,
			SourceAccount: d.Distributor,
			Sequence:      d.TxSequence,
			MaxTime:       d.TxMaxTime,
		}
		out := s.checker.Check(ctx, ref, false)
		if !apply(&d, out) {
			report.Open++
			slog.Debug("deployment still unresolved", "id", d.ID, "hash", d.TransactionHash, "detail", out.Detail)
			continue
		}

		d.UpdatedAt = s.clock()
		if err := s.repo.Save(ctx, d); err != nil {
			return report, fmt.Errorf("saving reconciled deployment %s: %w", d.ID, err)
		}
		if d.Status == domain.StatusConfirmed {
			report.Confirmed++
		} else {
			report.Failed++
		}
		slog.Info("deployment reconciled", "id", d.ID, "hash", d.TransactionHash, "status", d.Status)
	}
	return report, nil
}

// apply folds a reconciliation outcome into the record and reports whether it changed.
func apply(d *domain.Deployment, out deploy.Outcome) bool {
	switch out.Verdict {
	case deploy.VerdictConfirmed:
		c, ok := out.Result.(submit.Confirmed)
		if !ok {
			return false
		}
		d.Status = domain.StatusConfirmed
		d.Phase = domain.PhaseConfirmed
		d.Ledger = c.Ledger
		d.Reason, d.Detail = "", ""
		return true
	case deploy.VerdictRejected:
		r, ok := out.Result.(submit.Rejected)
		if !ok {
			return false
		}
		d.Status = domain.StatusFailed
		d.Reason = "rejected by ledger"
		d.ErrorCode = r.Code
		d.Detail = r.OperationCode
		if r.OperationIndex >= 0 {
			idx := r.OperationIndex
			d.OperationIndex = &idx
		}
		return true
	case deploy.VerdictAbsent:
		d.Status = domain.StatusFailed
		d.Reason = "transaction expired without landing"
		d.Detail = out.Detail
		return true
	default:
		return false
	}
}
