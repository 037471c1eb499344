package horizon

// HorizonAccount represents the JSON response from GET /accounts/{id}.
type HorizonAccount struct {
	ID            string            `json:"id"`
	Sequence      string            `json:"sequence"`
	SubentryCount int               `json:"subentry_count"`
	Balances      []HorizonBalance  `json:"balances"`
	Data          map[string]string `json:"data"`
}

// HorizonBalance represents a single balance entry in an account response.
type HorizonBalance struct {
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
	Balance     string `json:"balance"`
	Limit       string `json:"limit,omitempty"`
}

// Async submission statuses returned by POST /transactions_async.
const (
	TxStatusPending       = "PENDING"
	TxStatusDuplicate     = "DUPLICATE"
	TxStatusError         = "ERROR"
	TxStatusTryAgainLater = "TRY_AGAIN_LATER"
)

// AsyncSubmission is the JSON body of POST /transactions_async.
type AsyncSubmission struct {
	TxStatus       string `json:"tx_status"`
	Hash           string `json:"hash"`
	ErrorResultXDR string `json:"error_result_xdr,omitempty"`
}

// HorizonTransaction represents the JSON response from GET /transactions/{hash}.
type HorizonTransaction struct {
	ID         string `json:"id"`
	Hash       string `json:"hash"`
	Ledger     int32  `json:"ledger"`
	CreatedAt  string `json:"created_at"`
	Successful bool   `json:"successful"`
	ResultXDR  string `json:"result_xdr"`
	SourceAcct string `json:"source_account"`
	Sequence   string `json:"source_account_sequence"`
}

// Problem is a Horizon/Friendbot problem document (RFC 7807 with Stellar extras).
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Extras struct {
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
		ResultXDR string `json:"result_xdr"`
	} `json:"extras"`
}
