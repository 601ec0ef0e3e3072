package transfer

import (
	"context"
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// ErrNoInstructions is returned when asked to build an empty transaction.
var ErrNoInstructions = errors.New("transaction requires at least one instruction")

// BuildTransaction wraps instructions into an unsigned v0 transaction paid by payer.
// A fresh blockhash is fetched on every call; blockhashes are never reused.
func BuildTransaction(ctx context.Context, conn Connection, instructions []solanago.Instruction, payer solanago.PublicKey) (*solanago.Transaction, error) {
	if len(instructions) == 0 {
		return nil, ErrNoInstructions
	}

	blockhash, err := conn.LatestCheckpoint(ctx)
	if err != nil {
		return nil, newError(KindNetworkError, "failed to fetch recent blockhash", err)
	}

	tx, err := solanago.NewTransaction(instructions, blockhash, solanago.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	tx.Message.SetVersion(solanago.MessageVersionV0)
	return tx, nil
}
