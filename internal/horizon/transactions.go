package horizon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// SubmitTransactionAsync posts a signed base64 envelope to /transactions_async.
// Horizon answers ERROR, DUPLICATE and TRY_AGAIN_LATER with non-2xx codes but a regular
// submission body; those are decoded and returned without error. Transport failures and
// unrecognised answers are returned as errors.
func (c *Client) SubmitTransactionAsync(ctx context.Context, envelopeXDR string) (AsyncSubmission, error) {
	form := url.Values{}
	form.Set("tx", envelopeXDR)

	body, err := c.postForm(ctx, "/transactions_async", form)
	if err != nil {
		var se *StatusError
		if !errors.As(err, &se) {
			return AsyncSubmission{}, fmt.Errorf("submitting transaction: %w", err)
		}
		body = se.Body
	}

	var sub AsyncSubmission
	if jsonErr := json.Unmarshal(body, &sub); jsonErr != nil || sub.TxStatus == "" {
		if err != nil {
			return AsyncSubmission{}, fmt.Errorf("submitting transaction: %w", err)
		}
		return AsyncSubmission{}, fmt.Errorf("submitting transaction: unexpected response %q", string(body))
	}
	return sub, nil
}

// FetchTransaction looks a transaction up by hash. Transactions that are not yet in a
// closed ledger yield an error matching ErrNotFound.
func (c *Client) FetchTransaction(ctx context.Context, hash string) (HorizonTransaction, error) {
	var tx HorizonTransaction
	if err := c.getJSON(ctx, fmt.Sprintf("/transactions/%s", hash), &tx); err != nil {
		return HorizonTransaction{}, fmt.Errorf("fetching transaction %s: %w", hash, err)
	}
	return tx, nil
}
