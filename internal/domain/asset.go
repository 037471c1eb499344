package domain

import (
	"fmt"

	"github.com/stellar/go-stellar-sdk/strkey"
)

// AssetType represents the Stellar asset type classification.
type AssetType string

const (
	AssetTypeNative           AssetType = "native"
	AssetTypeCreditAlphanum4  AssetType = "credit_alphanum4"
	AssetTypeCreditAlphanum12 AssetType = "credit_alphanum12"
)

// MaxAssetCodeLength is the longest asset code the ledger accepts (credit_alphanum12).
const MaxAssetCodeLength = 12

// AssetDefinition pairs an asset code with the account that issues it.
// The ledger treats equal codes from different issuers as distinct assets.
type AssetDefinition struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer"`
}

// NewAssetDefinition validates the code and issuer and returns the asset.
func NewAssetDefinition(code, issuer string) (AssetDefinition, error) {
	if err := ValidateAssetCode(code); err != nil {
		return AssetDefinition{}, err
	}
	if !strkey.IsValidEd25519PublicKey(issuer) {
		return AssetDefinition{}, &ValidationError{Field: "issuer", Reason: "not a valid account address", Err: ErrInvalidIssuer}
	}
	return AssetDefinition{Code: code, Issuer: issuer}, nil
}

// ValidateAssetCode checks the code against the ledger's alphanumeric code rules.
func ValidateAssetCode(code string) error {
	if code == "" {
		return &ValidationError{Field: "assetCode", Reason: "must not be empty", Err: ErrInvalidAssetCode}
	}
	if len(code) > MaxAssetCodeLength {
		return &ValidationError{
			Field:  "assetCode",
			Reason: fmt.Sprintf("must be at most %d characters, got %d", MaxAssetCodeLength, len(code)),
			Err:    ErrInvalidAssetCode,
		}
	}
	for _, char := range code {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') {
			continue
		}
		return &ValidationError{Field: "assetCode", Reason: fmt.Sprintf("invalid character %q", char), Err: ErrInvalidAssetCode}
	}
	return nil
}

// Equal reports whether both the code and the issuer match exactly.
func (a AssetDefinition) Equal(other AssetDefinition) bool {
	return a.Code == other.Code && a.Issuer == other.Issuer
}

// Type returns the credit asset type implied by the code length.
func (a AssetDefinition) Type() AssetType {
	if len(a.Code) <= 4 {
		return AssetTypeCreditAlphanum4
	}
	return AssetTypeCreditAlphanum12
}

// Canonical returns the "CODE:ISSUER" representation.
func (a AssetDefinition) Canonical() string {
	return fmt.Sprintf("%s:%s", a.Code, a.Issuer)
}

func (a AssetDefinition) String() string { return a.Canonical() }
