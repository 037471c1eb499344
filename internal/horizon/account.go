package horizon

import (
	"context"
	"fmt"
	"strconv"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/tokenize/internal/domain"
)

// FetchAccount retrieves a Stellar account's details including sequence and balances.
// A missing account yields an error matching ErrNotFound.
func (c *Client) FetchAccount(ctx context.Context, accountID string) (HorizonAccount, error) {
	var account HorizonAccount
	if err := c.getJSON(ctx, fmt.Sprintf("/accounts/%s", accountID), &account); err != nil {
		return HorizonAccount{}, fmt.Errorf("fetching account %s: %w", accountID, err)
	}
	return account, nil
}

// LoadSnapshot fetches a fresh account snapshot for building the next transaction.
func (c *Client) LoadSnapshot(ctx context.Context, accountID string) (*domain.AccountSnapshot, error) {
	account, err := c.FetchAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return toSnapshot(account)
}

func toSnapshot(account HorizonAccount) (*domain.AccountSnapshot, error) {
	seq, err := strconv.ParseInt(account.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing sequence %q for %s: %w", account.Sequence, account.ID, err)
	}

	balances := make([]domain.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		amount, err := decimal.NewFromString(b.Balance)
		if err != nil {
			return nil, fmt.Errorf("parsing balance %q for %s: %w", b.Balance, account.ID, err)
		}
		balances = append(balances, domain.Balance{
			Asset:  domain.AssetDefinition{Code: b.AssetCode, Issuer: b.AssetIssuer},
			Native: b.AssetType == string(domain.AssetTypeNative),
			Amount: amount,
			Limit:  domain.SafeParse(b.Limit),
		})
	}

	native, _ := lo.Find(balances, func(b domain.Balance) bool { return b.Native })

	return &domain.AccountSnapshot{
		AccountID:     account.ID,
		Sequence:      seq,
		NativeBalance: native.Amount,
		SubentryCount: account.SubentryCount,
		Balances:      balances,
	}, nil
}
