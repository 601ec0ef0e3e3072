package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solsend/service/metrics"
	"github.com/brojonat/solsend/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// SendResult is what a signer hands back after broadcasting.
// Wallets answer with either a bare signature string or {"signature": "..."};
// UnmarshalJSON accepts both.
type SendResult struct {
	Signature solanago.Signature `json:"signature"`
}

func (r *SendResult) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		var obj struct {
			Signature string `json:"signature"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("unrecognized signer response: %w", err)
		}
		raw = obj.Signature
	}
	if raw == "" {
		return fmt.Errorf("signer response has no signature")
	}
	sig, err := solanago.SignatureFromBase58(raw)
	if err != nil {
		return fmt.Errorf("invalid signature %q: %w", raw, err)
	}
	r.Signature = sig
	return nil
}

// Signer signs and broadcasts a transaction on behalf of the connected wallet.
type Signer interface {
	SignAndSend(ctx context.Context, tx *solanago.Transaction) (SendResult, error)
}

// Session is a connected wallet.
type Session interface {
	Address() solanago.PublicKey
	Connection(ctx context.Context) (Connection, error)
	Signer(ctx context.Context) (Signer, error)
}

// Request is one transfer attempt as supplied by the caller.
type Request struct {
	Recipient string
	Amount    string
	Asset     AssetRef
	// Balance, when set, bounds Amount. Display units.
	Balance *string
}

// Status is the terminal state of an attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is the caller-facing result of an attempt.
type Outcome struct {
	Status      Status `json:"status"`
	Signature   string `json:"signature,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Kind        Kind   `json:"kind,omitempty"`
	Message     string `json:"message,omitempty"`
	// BaseUnits is the scaled amount, set once the attempt got far enough to compute it.
	BaseUnits uint64 `json:"base_units,omitempty"`
	// Retryable is set on failures that a fresh attempt may get past.
	Retryable bool `json:"retryable,omitempty"`
}

// Succeeded reports whether the attempt landed a signature.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Success builds a successful outcome.
func Success(signature solanago.Signature, network solana.Network) Outcome {
	return Outcome{
		Status:      StatusSuccess,
		Signature:   signature.String(),
		ExplorerURL: solana.ExplorerURL(signature, network),
	}
}

// Failure normalizes any error into a failed outcome.
func Failure(err error) Outcome {
	msg := FallbackMessage
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	kind := KindOf(err)
	return Outcome{Status: StatusFailure, Kind: kind, Message: msg, Retryable: kind.Retryable()}
}

// Prepared is a fully built, unsigned transfer.
type Prepared struct {
	Sender      solanago.PublicKey
	Recipient   solanago.PublicKey
	Asset       AssetRef
	Amount      uint64 // smallest units
	Decimals    uint8
	Accounts    *ResolvedAccounts // nil on the native path
	Network     solana.Network
	Transaction *solanago.Transaction
}

// Transferer runs the transfer pipeline. It holds no per-attempt state.
type Transferer struct {
	resolver *Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewTransferer creates a Transferer. metrics may be nil.
func NewTransferer(m *metrics.Metrics, logger *slog.Logger) *Transferer {
	return &Transferer{
		resolver: NewResolver(logger),
		metrics:  m,
		logger:   logger,
	}
}

// Prepare validates the request and builds the unsigned transaction.
// Validation failures return before any network call.
func (t *Transferer) Prepare(ctx context.Context, session Session, req Request) (*Prepared, error) {
	if session == nil {
		return nil, errNoWallet()
	}

	recipient, err := CheckAddress(req.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := CheckAmount(req.Amount, req.Balance)
	if err != nil {
		return nil, err
	}

	conn, err := session.Connection(ctx)
	if err != nil {
		return nil, newError(KindNetworkError, "failed to connect to Solana", err)
	}

	sender := session.Address()
	p := &Prepared{
		Sender:    sender,
		Recipient: recipient,
		Asset:     req.Asset,
		Network:   conn.Network(),
	}

	var instructions []solanago.Instruction
	if req.Asset.IsNative() {
		p.Decimals = NativeDecimals
		if p.Amount, err = ScaleAmount(amount, NativeDecimals); err != nil {
			return nil, err
		}
		instructions = AssembleNative(sender, recipient, p.Amount)
	} else {
		if p.Accounts, err = t.resolver.Resolve(ctx, conn, req.Asset, sender, recipient); err != nil {
			return nil, err
		}
		p.Decimals = p.Accounts.Decimals
		if p.Amount, err = ScaleAmount(amount, p.Decimals); err != nil {
			return nil, err
		}
		if instructions, err = AssembleToken(sender, recipient, p.Accounts, p.Amount); err != nil {
			return nil, err
		}
	}

	if p.Transaction, err = BuildTransaction(ctx, conn, instructions, sender); err != nil {
		return nil, err
	}
	return p, nil
}

// Submit asks the wallet to sign and broadcast a prepared transfer.
// Nothing is retried.
func (t *Transferer) Submit(ctx context.Context, session Session, p *Prepared) (solanago.Signature, error) {
	if session == nil {
		return solanago.Signature{}, errNoWallet()
	}
	signer, err := session.Signer(ctx)
	if err != nil {
		return solanago.Signature{}, err
	}
	if signer == nil {
		return solanago.Signature{}, errNoWallet()
	}

	res, err := signer.SignAndSend(ctx, p.Transaction)
	if err != nil {
		return solanago.Signature{}, err
	}
	if res.Signature == (solanago.Signature{}) {
		return solanago.Signature{}, newError(KindNetworkError, "wallet returned no signature", nil)
	}
	return res.Signature, nil
}

// Transfer runs one full attempt and always returns an Outcome.
func (t *Transferer) Transfer(ctx context.Context, session Session, req Request) Outcome {
	start := time.Now()
	logger := t.logger.With("recipient", req.Recipient, "amount", req.Amount, "asset", req.Asset.String())

	outcome := t.run(ctx, session, req, logger)

	kind := string(outcome.Kind)
	t.metrics.RecordTransfer(req.Asset.Label(), string(outcome.Status), kind, time.Since(start).Seconds())
	if outcome.Succeeded() {
		logger.InfoContext(ctx, "transfer submitted",
			"signature", outcome.Signature,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		logger.WarnContext(ctx, "transfer failed",
			"kind", kind,
			"message", outcome.Message,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return outcome
}

func (t *Transferer) run(ctx context.Context, session Session, req Request, logger *slog.Logger) Outcome {
	p, err := t.Prepare(ctx, session, req)
	if err != nil {
		return Failure(err)
	}
	if p.Accounts != nil && !p.Accounts.Recipient.Exists {
		logger.InfoContext(ctx, "recipient token account missing, creating it in the same transaction",
			"account", p.Accounts.Recipient.Address.String(),
		)
	}

	sig, err := t.Submit(ctx, session, p)
	if err != nil {
		outcome := Failure(err)
		outcome.BaseUnits = p.Amount
		return outcome
	}
	if p.Accounts != nil && !p.Accounts.Recipient.Exists {
		t.metrics.RecordTokenAccountCreated(p.Accounts.Program.String())
	}
	outcome := Success(sig, p.Network)
	outcome.BaseUnits = p.Amount
	return outcome
}
