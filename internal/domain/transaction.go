package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OperationType names a ledger operation supported by the pipeline.
type OperationType string

const (
	OperationChangeTrust OperationType = "change_trust"
	OperationPayment     OperationType = "payment"
)

// Operation is a single ledger operation inside a transaction.
type Operation interface {
	Type() OperationType
	// Source returns the operation source account, or "" to inherit the transaction source.
	Source() string
	Validate() error
}

// TrustlineOperation establishes, updates or (with a zero limit) removes a trust line.
type TrustlineOperation struct {
	Asset         AssetDefinition `json:"asset"`
	Limit         decimal.Decimal `json:"limit"`
	SourceAccount string          `json:"sourceAccount,omitempty"`
}

// NewTrustlineOperation validates the limit and returns the operation.
func NewTrustlineOperation(asset AssetDefinition, limit decimal.Decimal) (TrustlineOperation, error) {
	op := TrustlineOperation{Asset: asset, Limit: limit}
	if err := op.Validate(); err != nil {
		return TrustlineOperation{}, err
	}
	return op, nil
}

func (o TrustlineOperation) Type() OperationType { return OperationChangeTrust }
func (o TrustlineOperation) Source() string      { return o.SourceAccount }

// Validate checks the limit is a representable non-negative amount.
func (o TrustlineOperation) Validate() error {
	if err := ValidateAmount(o.Limit); err != nil {
		return &ValidationError{Field: "limit", Reason: err.Error(), Err: ErrInvalidAmount}
	}
	return nil
}

// Removes reports whether the operation deletes an existing trust line.
func (o TrustlineOperation) Removes() bool {
	return o.Limit.IsZero()
}

// PaymentOperation transfers an amount of an asset. Paid from the issuer it mints new units.
type PaymentOperation struct {
	Destination   string          `json:"destination"`
	Asset         AssetDefinition `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	SourceAccount string          `json:"sourceAccount,omitempty"`
}

func (o PaymentOperation) Type() OperationType { return OperationPayment }
func (o PaymentOperation) Source() string      { return o.SourceAccount }

// Validate checks the amount is positive and representable.
func (o PaymentOperation) Validate() error {
	if !o.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive", Err: ErrInvalidAmount}
	}
	if err := ValidateAmount(o.Amount); err != nil {
		return &ValidationError{Field: "amount", Reason: err.Error(), Err: ErrInvalidAmount}
	}
	if o.Destination == "" {
		return &ValidationError{Field: "destination", Reason: "must not be empty", Err: ErrInvalidInput}
	}
	return nil
}

// TimeBounds limits when the network accepts a transaction. Zero means unbounded.
type TimeBounds struct {
	MinTime int64 `json:"minTime"`
	MaxTime int64 `json:"maxTime"`
}

// Expiry returns the upper bound as a time, or the zero time when unbounded.
func (tb TimeBounds) Expiry() time.Time {
	if tb.MaxTime == 0 {
		return time.Time{}
	}
	return time.Unix(tb.MaxTime, 0)
}

// UnsignedTransaction is an assembled transaction waiting for signatures.
type UnsignedTransaction struct {
	SourceAccount string      `json:"sourceAccount"`
	Sequence      int64       `json:"sequence"`
	Operations    []Operation `json:"operations"`
	Fee           int64       `json:"fee"`
	TimeBounds    TimeBounds  `json:"timeBounds"`
}

func (t UnsignedTransaction) String() string {
	return fmt.Sprintf("tx(source=%s seq=%d ops=%d fee=%d maxTime=%d)",
		t.SourceAccount, t.Sequence, len(t.Operations), t.Fee, t.TimeBounds.MaxTime)
}
