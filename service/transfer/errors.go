package transfer

import (
	"errors"
	"fmt"

	"github.com/brojonat/solsend/service/solana"
)

// Kind classifies why a transfer attempt failed.
type Kind string

const (
	KindInvalidRecipient     Kind = "InvalidRecipient"
	KindInvalidAmount        Kind = "InvalidAmount"
	KindNoWalletConnected    Kind = "NoWalletConnected"
	KindNoSourceTokenAccount Kind = "NoSourceTokenAccount"
	KindNetworkError         Kind = "NetworkError"
	KindSigningRejected      Kind = "SigningRejected"
	KindUnsupportedAsset     Kind = "UnsupportedAsset"
)

// FallbackMessage is shown when a failure carries no message of its own.
const FallbackMessage = "Failed to send transaction. Please try again."

// Wallet implementations wrap these so the pipeline can classify signer failures.
var (
	ErrSigningRejected = errors.New("signing rejected")
	ErrNoWallet        = errors.New("no Solana wallet connected")
)

// IsValidation reports whether the kind is detected before any network call.
func (k Kind) IsValidation() bool {
	return k == KindInvalidRecipient || k == KindInvalidAmount
}

// Retryable reports whether re-running the whole attempt may succeed.
func (k Kind) Retryable() bool {
	return k == KindNetworkError || k == KindSigningRejected
}

// Error is a classified transfer failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf classifies any error returned from the pipeline or its collaborators.
// Unclassified errors are treated as network failures.
func KindOf(err error) Kind {
	var te *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return te.Kind
	case errors.Is(err, ErrSigningRejected):
		return KindSigningRejected
	case errors.Is(err, ErrNoWallet):
		return KindNoWalletConnected
	case errors.Is(err, solana.ErrUnsupportedTokenProgram):
		return KindUnsupportedAsset
	default:
		return KindNetworkError
	}
}

func errNoWallet() *Error {
	return newError(KindNoWalletConnected, "No Solana wallet connected", nil)
}
