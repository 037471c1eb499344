package submit

import (
	"fmt"

	"github.com/stellar/go-stellar-sdk/xdr"
)

var txCodes = map[xdr.TransactionResultCode]string{
	xdr.TransactionResultCodeTxSuccess:             "tx_success",
	xdr.TransactionResultCodeTxFailed:              "tx_failed",
	xdr.TransactionResultCodeTxTooEarly:            "tx_too_early",
	xdr.TransactionResultCodeTxTooLate:             "tx_too_late",
	xdr.TransactionResultCodeTxMissingOperation:    "tx_missing_operation",
	xdr.TransactionResultCodeTxBadSeq:              "tx_bad_seq",
	xdr.TransactionResultCodeTxBadAuth:             "tx_bad_auth",
	xdr.TransactionResultCodeTxInsufficientBalance: "tx_insufficient_balance",
	xdr.TransactionResultCodeTxNoAccount:           "tx_no_source_account",
	xdr.TransactionResultCodeTxInsufficientFee:     "tx_insufficient_fee",
	xdr.TransactionResultCodeTxBadAuthExtra:        "tx_bad_auth_extra",
	xdr.TransactionResultCodeTxInternalError:       "tx_internal_error",
}

var opCodes = map[xdr.OperationResultCode]string{
	xdr.OperationResultCodeOpBadAuth:           "op_bad_auth",
	xdr.OperationResultCodeOpNoAccount:         "op_no_source_account",
	xdr.OperationResultCodeOpNotSupported:      "op_not_supported",
	xdr.OperationResultCodeOpTooManySubentries: "op_too_many_subentries",
	xdr.OperationResultCodeOpExceededWorkLimit: "op_exceeded_work_limit",
	xdr.OperationResultCodeOpTooManySponsoring: "op_too_many_sponsoring",
}

var changeTrustCodes = map[xdr.ChangeTrustResultCode]string{
	xdr.ChangeTrustResultCodeChangeTrustMalformed:      "op_malformed",
	xdr.ChangeTrustResultCodeChangeTrustNoIssuer:       "op_no_issuer",
	xdr.ChangeTrustResultCodeChangeTrustInvalidLimit:   "op_invalid_limit",
	xdr.ChangeTrustResultCodeChangeTrustLowReserve:     "op_low_reserve",
	xdr.ChangeTrustResultCodeChangeTrustSelfNotAllowed: "op_self_not_allowed",
}

var paymentCodes = map[xdr.PaymentResultCode]string{
	xdr.PaymentResultCodePaymentMalformed:        "op_malformed",
	xdr.PaymentResultCodePaymentUnderfunded:      "op_underfunded",
	xdr.PaymentResultCodePaymentSrcNoTrust:       "op_src_no_trust",
	xdr.PaymentResultCodePaymentSrcNotAuthorized: "op_src_not_authorized",
	xdr.PaymentResultCodePaymentNoDestination:    "op_no_destination",
	xdr.PaymentResultCodePaymentNoTrust:          "op_no_trust",
	xdr.PaymentResultCodePaymentNotAuthorized:    "op_not_authorized",
	xdr.PaymentResultCodePaymentLineFull:         "op_line_full",
	xdr.PaymentResultCodePaymentNoIssuer:         "op_no_issuer",
}

// decodeRejection turns a base64 TransactionResult into a Rejected. Undecodable input
// still yields a Rejected, carrying the raw payload as its code.
func decodeRejection(hash, resultXDR string) Rejected {
	rejected := Rejected{Hash: hash, Code: "tx_failed", OperationIndex: -1}
	if resultXDR == "" {
		return rejected
	}

	var result xdr.TransactionResult
	if err := xdr.SafeUnmarshalBase64(resultXDR, &result); err != nil {
		rejected.Code = fmt.Sprintf("undecodable result %q", resultXDR)
		return rejected
	}

	rejected.Code = txCodeName(result.Result.Code)
	ops, ok := result.OperationResults()
	if !ok {
		return rejected
	}
	for i, op := range ops {
		if code, failed := opFailure(op); failed {
			rejected.OperationIndex = i
			rejected.OperationCode = code
			break
		}
	}
	return rejected
}

func txCodeName(code xdr.TransactionResultCode) string {
	if name, ok := txCodes[code]; ok {
		return name
	}
	return code.String()
}

// opFailure returns the code of a failed operation result.
func opFailure(op xdr.OperationResult) (string, bool) {
	if op.Code != xdr.OperationResultCodeOpInner {
		if name, ok := opCodes[op.Code]; ok {
			return name, true
		}
		return op.Code.String(), true
	}
	if op.Tr == nil {
		return "", false
	}

	switch op.Tr.Type {
	case xdr.OperationTypeChangeTrust:
		res, ok := op.Tr.GetChangeTrustResult()
		if !ok || res.Code == xdr.ChangeTrustResultCodeChangeTrustSuccess {
			return "", false
		}
		if name, ok := changeTrustCodes[res.Code]; ok {
			return name, true
		}
		return res.Code.String(), true
	case xdr.OperationTypePayment:
		res, ok := op.Tr.GetPaymentResult()
		if !ok || res.Code == xdr.PaymentResultCodePaymentSuccess {
			return "", false
		}
		if name, ok := paymentCodes[res.Code]; ok {
			return name, true
		}
		return res.Code.String(), true
	default:
		return "", false
	}
}
