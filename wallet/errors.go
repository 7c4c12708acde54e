package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSeed is returned when an operation needs deterministic
	// secrets but the wallet has no seed loaded.
	ErrNoSeed = errors.New("wallet seed not initialized")

	// ErrUnsafeState is returned when the wallet has a seed but no
	// durable counter storage. Producing outputs in that state risks
	// reusing counters on a later run, which the mint rejects as
	// duplicate secrets.
	ErrUnsafeState = errors.New("refusing to derive outputs: seed present but no storage configured for counters")

	ErrStorageRequired     = errors.New("operation requires storage to be configured")
	ErrInvalidMnemonic     = errors.New("invalid mnemonic")
	ErrMnemonicAlreadySet  = errors.New("wallet already has a mnemonic")
	ErrAmountMismatch      = errors.New("sum of inputs minus fees does not equal sum of outputs")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrQuoteNotPaid        = errors.New("mint quote has not been paid")
	ErrQuotePending        = errors.New("quote is pending")
)

type WrongMintErr struct {
	Expected string
	Got      string
}

func (e WrongMintErr) Error() string {
	return fmt.Sprintf("token is from mint '%v' but wallet is bound to '%v'", e.Got, e.Expected)
}

type NoActiveKeysetErr struct {
	Unit      string
	Available []string
}

func (e NoActiveKeysetErr) Error() string {
	return fmt.Sprintf("mint has no active keyset for unit '%v' (available units: %v)", e.Unit, e.Available)
}

type UnknownKeysetErr struct {
	Id string
}

func (e UnknownKeysetErr) Error() string {
	return fmt.Sprintf("unknown keyset '%v'", e.Id)
}

type UnknownAmountErr struct {
	KeysetId string
	Amount   uint64
}

func (e UnknownAmountErr) Error() string {
	return fmt.Sprintf("keyset '%v' has no key for amount %v", e.KeysetId, e.Amount)
}
