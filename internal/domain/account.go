package domain

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Balance is a single asset balance held by an account.
type Balance struct {
	Asset  AssetDefinition `json:"asset"`
	Native bool            `json:"native"`
	Amount decimal.Decimal `json:"amount"`
	Limit  decimal.Decimal `json:"limit"`
}

// AccountSnapshot is the ledger state of an account at the moment it was loaded.
// Sequence numbers are single-use: a snapshot may build exactly one transaction and
// must be re-fetched before the next one.
type AccountSnapshot struct {
	AccountID     string          `json:"accountId"`
	Sequence      int64           `json:"sequence"`
	NativeBalance decimal.Decimal `json:"nativeBalance"`
	SubentryCount int             `json:"subentryCount"`
	Balances      []Balance       `json:"balances"`

	consumed bool
}

// Consume marks the snapshot as used. It returns ErrSnapshotConsumed on the second call.
func (s *AccountSnapshot) Consume() error {
	if s.consumed {
		return ErrSnapshotConsumed
	}
	s.consumed = true
	return nil
}

// Consumed reports whether the snapshot already built a transaction.
func (s *AccountSnapshot) Consumed() bool {
	return s.consumed
}

// TrustlineFor returns the balance entry for asset, if the account trusts it.
func (s *AccountSnapshot) TrustlineFor(asset AssetDefinition) (Balance, bool) {
	return lo.Find(s.Balances, func(b Balance) bool {
		return !b.Native && b.Asset.Equal(asset)
	})
}

// FundedAccount is the outcome of a successful funding step.
type FundedAccount struct {
	AccountID      string          `json:"accountId"`
	NativeBalance  decimal.Decimal `json:"nativeBalance"`
	AlreadyExisted bool            `json:"alreadyExisted"`
}
