package deployment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mtlprog/tokenize/internal/deploy"
	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/submit"
)

type mockRepo struct {
	unresolved    []domain.Deployment
	unresolvedErr error
	saved         []domain.Deployment
	saveErr       error
	got           *domain.Deployment
	getErr        error
	staleBefore   time.Time
}

func (m *mockRepo) Save(_ context.Context, d domain.Deployment) error {
	m.saved = append(m.saved, d)
	return m.saveErr
}

func (m *mockRepo) Get(_ context.Context, _ uuid.UUID) (*domain.Deployment, error) {
	return m.got, m.getErr
}

func (m *mockRepo) List(_ context.Context, _ int) ([]domain.Deployment, error) {
	return m.unresolved, nil
}

func (m *mockRepo) ListUnresolved(_ context.Context, staleBefore time.Time, _ int) ([]domain.Deployment, error) {
	m.staleBefore = staleBefore
	var out []domain.Deployment
	for _, d := range m.unresolved {
		if d.NeedsReconciliation(staleBefore) {
			out = append(out, d)
		}
	}
	return out, m.unresolvedErr
}

type mockChecker struct {
	outcomes map[string]deploy.Outcome
	refs     []deploy.TxRef
	waited   bool
}

func (m *mockChecker) Check(_ context.Context, ref deploy.TxRef, wait bool) deploy.Outcome {
	m.refs = append(m.refs, ref)
	m.waited = m.waited || wait
	return m.outcomes[ref.Hash]
}

func unresolved(hash string, status domain.DeploymentStatus, reason string) domain.Deployment {
	return domain.Deployment{
		ID:              uuid.New(),
		AssetCode:       "STL1",
		Distributor:     "GDIST",
		Status:          status,
		Reason:          reason,
		TransactionHash: hash,
		TxSequence:      1001,
		TxMaxTime:       1_700_000_000,
	}
}

func TestReconcileSettlesOutcomes(t *testing.T) {
	repo := &mockRepo{unresolved: []domain.Deployment{
		unresolved("h-confirmed", domain.StatusIndeterminate, domain.ReasonIndeterminate),
		unresolved("h-rejected", domain.StatusFailed, domain.ReasonTimeout),
		unresolved("h-absent", domain.StatusIndeterminate, domain.ReasonIndeterminate),
		unresolved("h-open", domain.StatusIndeterminate, domain.ReasonIndeterminate),
	}}
	checker := &mockChecker{outcomes: map[string]deploy.Outcome{
		"h-confirmed": {Verdict: deploy.VerdictConfirmed, Result: submit.Confirmed{Hash: "h-confirmed", Ledger: 88}},
		"h-rejected":  {Verdict: deploy.VerdictRejected, Result: submit.Rejected{Hash: "h-rejected", Code: "tx_failed", OperationIndex: 0, OperationCode: "op_low_reserve"}},
		"h-absent":    {Verdict: deploy.VerdictAbsent, Detail: "expired"},
		"h-open":      {Verdict: deploy.VerdictUnknown, Detail: "lookup failed"},
	}}

	report, err := NewService(nil, repo, checker).Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := ReconcileReport{Checked: 4, Confirmed: 1, Failed: 2, Open: 1}
	if report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}
	if checker.waited {
		t.Error("background reconciliation must not wait for expiry")
	}
	if len(repo.saved) != 3 {
		t.Fatalf("saved %d records, want 3", len(repo.saved))
	}

	confirmed := repo.saved[0]
	if confirmed.Status != domain.StatusConfirmed || confirmed.Ledger != 88 || confirmed.Phase != domain.PhaseConfirmed {
		t.Errorf("confirmed record = %+v", confirmed)
	}
	rejected := repo.saved[1]
	if rejected.Status != domain.StatusFailed || rejected.ErrorCode != "tx_failed" || rejected.OperationIndex == nil || *rejected.OperationIndex != 0 {
		t.Errorf("rejected record = %+v", rejected)
	}
	absent := repo.saved[2]
	if absent.Status != domain.StatusFailed || absent.Reason != "transaction expired without landing" {
		t.Errorf("absent record = %+v", absent)
	}

	ref := checker.refs[0]
	if ref.SourceAccount != "GDIST" || ref.Sequence != 1001 || ref.MaxTime != 1_700_000_000 {
		t.Errorf("ref = %+v", ref)
	}
}

func TestReconcileStaleInProgress(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := unresolved("h-stale", domain.StatusInProgress, "")
	stale.Phase = domain.PhaseSubmitted
	stale.UpdatedAt = now.Add(-10 * time.Minute)
	running := unresolved("h-running", domain.StatusInProgress, "")
	running.UpdatedAt = now.Add(-time.Minute)

	repo := &mockRepo{unresolved: []domain.Deployment{stale, running}}
	checker := &mockChecker{outcomes: map[string]deploy.Outcome{
		"h-stale":   {Verdict: deploy.VerdictConfirmed, Result: submit.Confirmed{Hash: "h-stale", Ledger: 91}},
		"h-running": {Verdict: deploy.VerdictConfirmed, Result: submit.Confirmed{Hash: "h-running", Ledger: 92}},
	}}

	svc := NewService(nil, repo, checker, WithStaleAfter(5*time.Minute))
	svc.clock = func() time.Time { return now }

	report, err := svc.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !repo.staleBefore.Equal(now.Add(-5 * time.Minute)) {
		t.Errorf("staleBefore = %s, want %s", repo.staleBefore, now.Add(-5*time.Minute))
	}
	if report != (ReconcileReport{Checked: 1, Confirmed: 1}) {
		t.Errorf("report = %+v", report)
	}
	if len(repo.saved) != 1 || repo.saved[0].TransactionHash != "h-stale" || repo.saved[0].Status != domain.StatusConfirmed {
		t.Errorf("saved = %+v", repo.saved)
	}
	if len(checker.refs) != 1 {
		t.Errorf("checked %d refs, want 1: a running deployment must be left alone", len(checker.refs))
	}
}

func TestReconcileListError(t *testing.T) {
	repo := &mockRepo{unresolvedErr: errors.New("db down")}
	if _, err := NewService(nil, repo, &mockChecker{}).Reconcile(context.Background(), 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestReconcileSaveError(t *testing.T) {
	repo := &mockRepo{
		unresolved: []domain.Deployment{unresolved("h", domain.StatusIndeterminate, domain.ReasonIndeterminate)},
		saveErr:    errors.New("db down"),
	}
	checker := &mockChecker{outcomes: map[string]deploy.Outcome{
		"h": {Verdict: deploy.VerdictAbsent},
	}}

	if _, err := NewService(nil, repo, checker).Reconcile(context.Background(), 10); err == nil {
		t.Fatal("expected error")
	}
}

type stubDeployer struct {
	params deploy.Params
}

func (s *stubDeployer) Deploy(_ context.Context, p deploy.Params) deploy.Result {
	s.params = p
	return deploy.Result{Status: domain.StatusConfirmed, AssetCode: p.AssetCode, TransactionHash: "h"}
}

func TestServiceDeployDelegates(t *testing.T) {
	d := &stubDeployer{}
	res := NewService(d, &mockRepo{}, &mockChecker{}).Deploy(context.Background(), deploy.Params{AssetCode: "STL1"})
	if res.Status != domain.StatusConfirmed || d.params.AssetCode != "STL1" {
		t.Errorf("result = %+v", res)
	}
}
