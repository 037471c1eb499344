package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAssetCode indicates an empty, too long or non-alphanumeric asset code.
	ErrInvalidAssetCode = errors.New("invalid asset code")
	// ErrInvalidIssuer indicates an issuer that is not an ed25519 account address.
	ErrInvalidIssuer = errors.New("invalid issuer")
	// ErrInvalidInput indicates economically or syntactically invalid user input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidAmount indicates an amount outside the ledger's representable range.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrEmptyOperationList is returned when a transaction is built without operations.
	ErrEmptyOperationList = errors.New("empty operation list")
	// ErrSnapshotConsumed is returned when an account snapshot is used for a second build.
	ErrSnapshotConsumed = errors.New("account snapshot already consumed")
	// ErrFeeTooLow is returned when the per-operation fee is below the network minimum.
	ErrFeeTooLow = errors.New("fee below network minimum")
)

// ValidationError reports bad user input. It is always raised before any network call
// and is recoverable by correcting the input.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Err, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildError reports a transaction assembly failure. It indicates a logic error in the
// caller and is never retried.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building transaction: %s", e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
