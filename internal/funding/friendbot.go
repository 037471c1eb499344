package funding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/horizon"
)

// friendbotStartingBalance is what Friendbot grants a new test account.
var friendbotStartingBalance = decimal.NewFromInt(10000)

// alreadyFundedMarkers are the substrings Friendbot uses to say the account exists.
var alreadyFundedMarkers = []string{
	"op_already_exists",
	"createaccountalreadyexist",
	"already funded",
	"already exists",
}

// FaucetFunder funds test accounts through Friendbot.
type FaucetFunder struct {
	baseURL    string
	httpClient *http.Client
	policy     Policy
}

// NewFaucetFunder creates a Friendbot funder.
func NewFaucetFunder(baseURL string, policy Policy) *FaucetFunder {
	return &FaucetFunder{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     policy,
	}
}

// Fund asks Friendbot to create and fund accountID. An account that already exists counts
// as funded.
func (f *FaucetFunder) Fund(ctx context.Context, accountID string) (domain.FundedAccount, error) {
	return withRetry(ctx, f.policy, accountID, func() (domain.FundedAccount, error) {
		return f.request(ctx, accountID)
	})
}

func (f *FaucetFunder) request(ctx context.Context, accountID string) (domain.FundedAccount, error) {
	endpoint := fmt.Sprintf("%s?addr=%s", f.baseURL, url.QueryEscape(accountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.FundedAccount{}, fmt.Errorf("creating friendbot request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.FundedAccount{}, errTransient{fmt.Errorf("friendbot request failed: %w", err)}
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return domain.FundedAccount{}, errTransient{fmt.Errorf("reading friendbot response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return domain.FundedAccount{AccountID: accountID, NativeBalance: friendbotStartingBalance}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.FundedAccount{}, errTransient{fmt.Errorf("friendbot HTTP %d: %s", resp.StatusCode, string(body))}
	case alreadyFunded(body):
		return domain.FundedAccount{AccountID: accountID, AlreadyExisted: true}, nil
	default:
		return domain.FundedAccount{}, fmt.Errorf("friendbot HTTP %d: %s", resp.StatusCode, string(body))
	}
}

// alreadyFunded inspects a Friendbot problem document for the "account exists" outcome.
func alreadyFunded(body []byte) bool {
	var problem horizon.Problem
	if err := json.Unmarshal(body, &problem); err == nil {
		for _, code := range problem.Extras.ResultCodes.Operations {
			if code == "op_already_exists" {
				return true
			}
		}
	}
	lower := strings.ToLower(string(body))
	for _, marker := range alreadyFundedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
