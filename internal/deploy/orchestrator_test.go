package deploy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/funding"
	"github.com/mtlprog/tokenize/internal/horizon"
	"github.com/mtlprog/tokenize/internal/keypair"
	"github.com/mtlprog/tokenize/internal/retry"
	"github.com/mtlprog/tokenize/internal/submit"
)

type fakeFunder struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeFunder) Fund(_ context.Context, accountID string) (domain.FundedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		if len(f.errs) > 1 {
			f.errs = f.errs[1:]
		}
		if err != nil {
			return domain.FundedAccount{}, err
		}
	}
	return domain.FundedAccount{AccountID: accountID, NativeBalance: decimal.NewFromInt(10000)}, nil
}

type fakeAccounts struct {
	mu       sync.Mutex
	sequence int64
	missing  bool
	failWith error
	stale    *domain.AccountSnapshot
	loads    int
}

func (f *fakeAccounts) LoadSnapshot(_ context.Context, accountID string) (*domain.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.missing {
		return nil, &horizon.StatusError{StatusCode: http.StatusNotFound}
	}
	if f.stale != nil {
		return f.stale, nil
	}
	return &domain.AccountSnapshot{AccountID: accountID, Sequence: f.sequence, NativeBalance: decimal.NewFromInt(10000)}, nil
}

func (f *fakeAccounts) consume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence++
}

type statusAnswer struct {
	res submit.Result
	err error
}

// fakeSubmitter replays scripted answers; the last answer of each list repeats.
type fakeSubmitter struct {
	mu       sync.Mutex
	sends    []submit.Result
	awaits   []submit.Result
	statuses []statusAnswer
	onSend   func()
	block    bool

	calls   []string
	sent    []domain.UnsignedTransaction
	signers [][]string
}

func pop[T any](list *[]T) T {
	v := (*list)[0]
	if len(*list) > 1 {
		*list = (*list)[1:]
	}
	return v
}

func (f *fakeSubmitter) Send(_ context.Context, unsigned domain.UnsignedTransaction, signers []*keypair.Keypair) (submit.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send")
	f.sent = append(f.sent, unsigned)
	var addrs []string
	for _, kp := range signers {
		if kp.Discarded() {
			return nil, keypair.ErrDiscarded
		}
		addrs = append(addrs, kp.Address())
	}
	f.signers = append(f.signers, addrs)
	if f.onSend != nil {
		f.onSend()
	}
	return pop(&f.sends), nil
}

func (f *fakeSubmitter) Await(ctx context.Context, hash string) submit.Result {
	f.mu.Lock()
	f.calls = append(f.calls, "await")
	block := f.block
	var res submit.Result
	if !block {
		res = pop(&f.awaits)
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return submit.NetworkFailure{Hash: hash, Cause: ctx.Err()}
	}
	return res
}

func (f *fakeSubmitter) Status(_ context.Context, hash string) (submit.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "status")
	if len(f.statuses) == 0 {
		return nil, submit.ErrTransactionNotFound
	}
	a := pop(&f.statuses)
	return a.res, a.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.Deployment
}

func (f *fakeRecorder) Save(_ context.Context, d domain.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, d)
	return nil
}

func (f *fakeRecorder) phases() []domain.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Phase
	for _, r := range f.records {
		if len(out) == 0 || out[len(out)-1] != r.Phase {
			out = append(out, r.Phase)
		}
	}
	return out
}

type harness struct {
	funder    *fakeFunder
	accounts  *fakeAccounts
	submitter *fakeSubmitter
	recorder  *fakeRecorder
	keys      KeyGenerator
	cfg       Config
}

func newHarness() *harness {
	return &harness{
		funder:    &fakeFunder{},
		accounts:  &fakeAccounts{sequence: 1000},
		submitter: &fakeSubmitter{},
		recorder:  &fakeRecorder{},
		keys:      keypair.NewProvisioner(),
		cfg: Config{
			FeePerOperation: 100,
			TxTimeout:       time.Nanosecond,
			MaxRetries:      3,
			Backoff:         retry.Backoff{Base: time.Millisecond, Factor: 2, Max: 2 * time.Millisecond},
			Timeout:         5 * time.Second,
			MintOnDeploy:    true,
		},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return NewOrchestrator(h.keys, h.funder, h.accounts, h.submitter, h.cfg, WithRecorder(h.recorder))
}

func stl1() Params {
	return Params{
		AssetCode:     "STL1",
		TotalValue:    decimal.NewFromInt(2500000),
		TotalSupply:   decimal.NewFromInt(1000000),
		MinInvestment: decimal.NewFromInt(1000),
	}
}

func confirmed(hash string) submit.Confirmed {
	return submit.Confirmed{Hash: hash, Ledger: 42, CloseTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestDeployConfirmed(t *testing.T) {
	h := newHarness()
	h.submitter.sends = []submit.Result{submit.Pending{PollToken: "hash-1"}}
	h.submitter.awaits = []submit.Result{confirmed("hash-1")}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	require.Equal(t, domain.StatusConfirmed, res.Status, "reason=%s detail=%s", res.Reason, res.Detail)
	assert.Equal(t, "hash-1", res.TransactionHash)
	assert.Equal(t, int32(42), res.Ledger)
	require.NotNil(t, res.Quote)
	assert.True(t, res.Quote.PricePerToken.Equal(decimal.RequireFromString("2.50")))
	assert.True(t, res.Quote.MinInvestmentTokens.Equal(decimal.NewFromInt(400)))
	assert.Nil(t, res.Keys)

	require.Len(t, h.submitter.sent, 1)
	tx := h.submitter.sent[0]
	assert.Equal(t, res.Distributor, tx.SourceAccount)
	assert.Equal(t, int64(1001), tx.Sequence)
	assert.Equal(t, int64(200), tx.Fee)
	require.Len(t, tx.Operations, 2)
	assert.Equal(t, domain.OperationChangeTrust, tx.Operations[0].Type())
	assert.Equal(t, domain.OperationPayment, tx.Operations[1].Type())
	assert.Equal(t, res.Issuer, tx.Operations[1].Source())

	assert.Equal(t, [][]string{{res.Distributor, res.Issuer}}, h.submitter.signers)
	assert.Equal(t, 2, h.funder.calls)

	assert.Equal(t, []domain.Phase{
		domain.PhaseInitializing,
		domain.PhaseKeypairGenerated,
		domain.PhaseAccountFunded,
		domain.PhaseTransactionBuilt,
		domain.PhaseSubmitted,
		domain.PhaseConfirmed,
	}, h.recorder.phases())
	last := h.recorder.records[len(h.recorder.records)-1]
	assert.Equal(t, domain.StatusConfirmed, last.Status)
	assert.Equal(t, res.ID, last.ID)
}

func TestDeployWithoutMint(t *testing.T) {
	h := newHarness()
	h.cfg.MintOnDeploy = false
	h.submitter.sends = []submit.Result{confirmed("hash-1")}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	require.Equal(t, domain.StatusConfirmed, res.Status)
	require.Len(t, h.submitter.sent, 1)
	assert.Len(t, h.submitter.sent[0].Operations, 1)
	assert.Equal(t, int64(100), h.submitter.sent[0].Fee)
}

func TestDeployDiscardsGeneratedKeys(t *testing.T) {
	var generated []*keypair.Keypair
	h := newHarness()
	h.keys = keyRecorder{inner: keypair.NewProvisioner(), out: &generated}
	h.submitter.sends = []submit.Result{confirmed("hash-1")}

	res := h.orchestrator().Deploy(context.Background(), stl1())
	require.Equal(t, domain.StatusConfirmed, res.Status)

	require.Len(t, generated, 2)
	for _, kp := range generated {
		assert.True(t, kp.Discarded())
	}
}

func TestDeployKeepKeys(t *testing.T) {
	h := newHarness()
	h.submitter.sends = []submit.Result{confirmed("hash-1")}
	p := stl1()
	p.KeepKeys = true

	res := h.orchestrator().Deploy(context.Background(), p)
	require.Equal(t, domain.StatusConfirmed, res.Status)
	require.NotNil(t, res.Keys)
	assert.False(t, res.Keys.Issuer.Discarded())
	assert.Equal(t, res.Issuer, res.Keys.Issuer.Address())
}

func TestDeployUsesCustodyKeys(t *testing.T) {
	provisioner := keypair.NewProvisioner()
	issuer, err := provisioner.Generate()
	require.NoError(t, err)
	distributor, err := provisioner.Generate()
	require.NoError(t, err)

	var generated []*keypair.Keypair
	h := newHarness()
	h.keys = keyRecorder{inner: provisioner, out: &generated}
	h.submitter.sends = []submit.Result{confirmed("hash-1")}

	o := NewOrchestrator(h.keys, h.funder, h.accounts, h.submitter, h.cfg, WithCustodyKeys(issuer, distributor))
	res := o.Deploy(context.Background(), stl1())

	require.Equal(t, domain.StatusConfirmed, res.Status)
	assert.Empty(t, generated)
	assert.Equal(t, issuer.Address(), res.Issuer)
	assert.Equal(t, distributor.Address(), res.Distributor)
	assert.False(t, issuer.Discarded())
	assert.False(t, distributor.Discarded())
}

type keyRecorder struct {
	inner KeyGenerator
	out   *[]*keypair.Keypair
}

func (k keyRecorder) Generate() (*keypair.Keypair, error) {
	kp, err := k.inner.Generate()
	if err == nil {
		*k.out = append(*k.out, kp)
	}
	return kp, err
}

func TestDeployValidationFailsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
		want   error
	}{
		{"empty code", func(p *Params) { p.AssetCode = "" }, domain.ErrInvalidAssetCode},
		{"long code", func(p *Params) { p.AssetCode = "ABCDEFGHIJKLM" }, domain.ErrInvalidAssetCode},
		{"bad chars", func(p *Params) { p.AssetCode = "ST-1" }, domain.ErrInvalidAssetCode},
		{"zero supply", func(p *Params) { p.TotalSupply = decimal.Zero }, domain.ErrInvalidInput},
		{"zero value", func(p *Params) { p.TotalValue = decimal.Zero }, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			p := stl1()
			tt.modify(&p)

			res := h.orchestrator().Deploy(context.Background(), p)

			assert.Equal(t, domain.StatusFailed, res.Status)
			assert.ErrorIs(t, res.Err, tt.want)
			assert.True(t, domain.IsValidation(res.Err))
			assert.Zero(t, h.funder.calls)
			assert.Zero(t, h.accounts.loads)
			assert.Empty(t, h.submitter.calls)
		})
	}
}

func TestDeployEntropyFailure(t *testing.T) {
	h := newHarness()
	h.keys = keypair.NewProvisioner(iotest.ErrReader(errors.New("no entropy")))

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, keypair.ErrEntropyUnavailable)
	assert.Equal(t, domain.PhaseInitializing, res.LastKnownState)
	assert.Zero(t, h.funder.calls)
}

func TestDeployFundingRejectedNotRetried(t *testing.T) {
	h := newHarness()
	h.funder.errs = []error{&funding.Error{Kind: funding.KindRejected, Err: errors.New("bad request")}}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "funding rejected", res.Reason)
	assert.Equal(t, domain.PhaseKeypairGenerated, res.LastKnownState)
	assert.Equal(t, 1, h.funder.calls)
	assert.Empty(t, h.submitter.calls)
}

func TestDeployFundingUnreachableButAccountsExist(t *testing.T) {
	h := newHarness()
	h.funder.errs = []error{&funding.Error{Kind: funding.KindUnreachable, Err: errors.New("timeout")}}
	h.submitter.sends = []submit.Result{confirmed("hash-1")}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusConfirmed, res.Status)
	assert.Equal(t, 1, h.funder.calls)
}

func TestDeployFundingUnreachableExhaustsRetries(t *testing.T) {
	h := newHarness()
	h.accounts.missing = true
	h.funder.errs = []error{&funding.Error{Kind: funding.KindUnreachable, Err: errors.New("timeout")}}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "funding source unreachable", res.Reason)
	assert.True(t, funding.IsUnreachable(res.Err))
	assert.Equal(t, 4, h.funder.calls)
	assert.Equal(t, 4, h.accounts.loads)
}

func TestDeployFundingUnreachableAndLookupFailsIsIndeterminate(t *testing.T) {
	h := newHarness()
	h.accounts.failWith = &horizon.StatusError{StatusCode: http.StatusBadGateway}
	h.funder.errs = []error{&funding.Error{Kind: funding.KindUnreachable, Err: errors.New("timeout")}}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusIndeterminate, res.Status)
	assert.Equal(t, 1, h.funder.calls)
	assert.Empty(t, h.submitter.sent)
	assert.True(t, funding.IsUnreachable(res.Err))
}

func TestDeployLedgerRejection(t *testing.T) {
	h := newHarness()
	h.submitter.sends = []submit.Result{submit.Pending{PollToken: "hash-1"}}
	h.submitter.awaits = []submit.Result{submit.Rejected{Hash: "hash-1", Code: "tx_failed", OperationIndex: 1, OperationCode: "op_no_trust"}}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "tx_failed", res.ErrorCode)
	require.NotNil(t, res.OperationIndex)
	assert.Equal(t, 1, *res.OperationIndex)
	assert.Equal(t, "op_no_trust", res.Detail)
	assert.Equal(t, "hash-1", res.TransactionHash)
	assert.Equal(t, []string{"send", "await"}, h.submitter.calls)
}

func TestDeployIndeterminateAfterConfirmationTimeout(t *testing.T) {
	h := newHarness()
	h.submitter.sends = []submit.Result{submit.Pending{PollToken: "hash-1"}}
	h.submitter.awaits = []submit.Result{submit.NetworkFailure{Hash: "hash-1", Cause: submit.ErrConfirmationTimeout}}
	h.submitter.onSend = h.accounts.consume

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusIndeterminate, res.Status)
	assert.Equal(t, domain.ReasonIndeterminate, res.Reason)
	assert.Equal(t, domain.PhaseSubmitted, res.LastKnownState)
	assert.Equal(t, "hash-1", res.TransactionHash)
	assert.Contains(t, res.Detail, "consumed")

	// Never resubmitted, and the hash was checked after the timeout.
	assert.Len(t, h.submitter.sent, 1)
	assert.Equal(t, []string{"send", "await", "status"}, h.submitter.calls)
}

func TestDeployIndeterminateWhenStatusLookupFails(t *testing.T) {
	h := newHarness()
	h.submitter.sends = []submit.Result{submit.NetworkFailure{Hash: "hash-1", Cause: errors.New("connection refused")}}
	h.submitter.statuses = []statusAnswer{{err: errors.New("horizon down")}}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusIndeterminate, res.Status)
	assert.Equal(t, domain.PhaseTransactionBuilt, res.LastKnownState)
	assert.Len(t, h.submitter.sent, 1)
}

func TestDeployRetriesOnlyAfterProvenAbsent(t *testing.T) {
	h := newHarness()
	h.submitter.sends = []submit.Result{
		submit.NetworkFailure{Hash: "hash-1", Cause: errors.New("connection refused")},
		submit.Pending{PollToken: "hash-2"},
	}
	h.submitter.awaits = []submit.Result{confirmed("hash-2")}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	require.Equal(t, domain.StatusConfirmed, res.Status, "reason=%s detail=%s", res.Reason, res.Detail)
	assert.Equal(t, "hash-2", res.TransactionHash)
	assert.Equal(t, []string{"send", "status", "send", "await"}, h.submitter.calls)

	require.Len(t, h.submitter.sent, 2)
	assert.Equal(t, h.submitter.sent[0].Sequence, h.submitter.sent[1].Sequence,
		"retry must reuse the unconsumed sequence number so at most one transaction can land")
}

func TestDeployReconciliationFindsConfirmed(t *testing.T) {
	h := newHarness()
	h.submitter.sends = []submit.Result{submit.Pending{PollToken: "hash-1"}}
	h.submitter.awaits = []submit.Result{submit.NetworkFailure{Hash: "hash-1", Cause: submit.ErrConfirmationTimeout}}
	h.submitter.statuses = []statusAnswer{{res: confirmed("hash-1")}}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusConfirmed, res.Status)
	assert.Len(t, h.submitter.sent, 1)
}

func TestDeploySubmissionRetriesExhausted(t *testing.T) {
	h := newHarness()
	h.submitter.sends = []submit.Result{submit.NetworkFailure{Hash: "hash-x", Cause: errors.New("connection refused")}}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "submission failed after 4 attempts", res.Reason)
	assert.Len(t, h.submitter.sent, 4)
}

func TestDeployRejectsReusedSnapshot(t *testing.T) {
	h := newHarness()
	// A loader that hands back the same snapshot forces a second build without a refresh.
	h.accounts.stale = &domain.AccountSnapshot{Sequence: 1000, NativeBalance: decimal.NewFromInt(10000)}
	h.submitter.sends = []submit.Result{submit.NetworkFailure{Hash: "hash-1", Cause: errors.New("connection refused")}}

	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "transaction build failed", res.Reason)
	assert.ErrorIs(t, res.Err, domain.ErrSnapshotConsumed)

	var buildErr *domain.BuildError
	assert.ErrorAs(t, res.Err, &buildErr)
	assert.Len(t, h.submitter.sent, 1)
}

func TestDeployOverallTimeout(t *testing.T) {
	h := newHarness()
	h.cfg.Timeout = 50 * time.Millisecond
	h.submitter.sends = []submit.Result{submit.Pending{PollToken: "hash-1"}}
	h.submitter.block = true

	start := time.Now()
	res := h.orchestrator().Deploy(context.Background(), stl1())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.ReasonTimeout, res.Reason)
	assert.Equal(t, "hash-1", res.TransactionHash)
	assert.Equal(t, domain.PhaseSubmitted, res.LastKnownState)
	assert.Len(t, h.submitter.sent, 1)
}

func TestDeployCancelled(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.orchestrator().Deploy(ctx, stl1())

	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "cancelled", res.Reason)
	assert.Zero(t, h.funder.calls)
}
