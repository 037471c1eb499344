package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Phase is a step of the deployment workflow.
type Phase string

const (
	PhaseInitializing     Phase = "initializing"
	PhaseKeypairGenerated Phase = "keypair_generated"
	PhaseAccountFunded    Phase = "account_funded"
	PhaseTransactionBuilt Phase = "transaction_built"
	PhaseSubmitted        Phase = "submitted"
	PhaseConfirmed        Phase = "confirmed"
	PhaseFailed           Phase = "failed"
	PhaseIndeterminate    Phase = "indeterminate"
)

// Terminal reports whether the workflow stops in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseFailed || p == PhaseIndeterminate
}

// DeploymentStatus is the caller-facing outcome of a deployment.
type DeploymentStatus string

const (
	StatusInProgress    DeploymentStatus = "in_progress"
	StatusConfirmed     DeploymentStatus = "confirmed"
	StatusFailed        DeploymentStatus = "failed"
	StatusIndeterminate DeploymentStatus = "indeterminate"
)

// Deployment is the persisted record of one deployment workflow. It never holds secrets.
type Deployment struct {
	ID              uuid.UUID        `json:"id"`
	AssetCode       string           `json:"assetCode"`
	Issuer          string           `json:"issuer,omitempty"`
	Distributor     string           `json:"distributor,omitempty"`
	TotalValue      decimal.Decimal  `json:"totalValue"`
	TotalSupply     decimal.Decimal  `json:"totalSupply"`
	MinInvestment   decimal.Decimal  `json:"minInvestment"`
	Phase           Phase            `json:"lastKnownState"`
	Status          DeploymentStatus `json:"status"`
	TransactionHash string           `json:"transactionHash,omitempty"`
	TxSequence      int64            `json:"txSequence,omitempty"`
	TxMaxTime       int64            `json:"txMaxTime,omitempty"`
	Ledger          int32            `json:"ledger,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	Detail          string           `json:"detail,omitempty"`
	ErrorCode       string           `json:"errorCode,omitempty"`
	OperationIndex  *int             `json:"operationIndex,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// NeedsReconciliation reports whether the record has a submitted transaction whose
// outcome was never established. An in-progress record counts once it has not been
// updated since staleBefore, which means the process running it is gone.
func (d Deployment) NeedsReconciliation(staleBefore time.Time) bool {
	if d.TransactionHash == "" {
		return false
	}
	switch d.Status {
	case StatusIndeterminate:
		return true
	case StatusFailed:
		return d.Reason == ReasonTimeout
	case StatusInProgress:
		return d.UpdatedAt.Before(staleBefore)
	}
	return false
}

const (
	// ReasonTimeout marks a workflow stopped by its overall deadline.
	ReasonTimeout = "timeout"
	// ReasonIndeterminate marks an outcome that could not be proven present or absent.
	ReasonIndeterminate = "indeterminate, manual reconciliation required"
)
