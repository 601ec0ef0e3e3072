package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Instruction kinds reported by DescribeTransaction.
const (
	KindSystemTransfer     = "system_transfer"
	KindTransferChecked    = "transfer_checked"
	KindCreateTokenAccount = "create_associated_token_account"
	KindUnknown            = "unknown"
)

// InstructionSummary is a human-readable view of one compiled instruction.
type InstructionSummary struct {
	Kind        string            `json:"kind"`
	Program     solana.PublicKey  `json:"program"`
	Source      *solana.PublicKey `json:"source,omitempty"`
	Destination *solana.PublicKey `json:"destination,omitempty"`
	Mint        *solana.PublicKey `json:"mint,omitempty"`
	Owner       *solana.PublicKey `json:"owner,omitempty"`
	Amount      uint64            `json:"amount,omitempty"`
	Decimals    *uint8            `json:"decimals,omitempty"`
}

// DescribeTransaction decodes the instructions of a built transaction, in order.
// It only understands the instructions this service emits; anything else is
// reported as KindUnknown.
func DescribeTransaction(tx *solana.Transaction) ([]InstructionSummary, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction is nil")
	}

	accountKeys := tx.Message.AccountKeys
	out := make([]InstructionSummary, 0, len(tx.Message.Instructions))
	for i, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			return nil, fmt.Errorf("instruction %d: program index out of bounds", i)
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		summary := InstructionSummary{Kind: KindUnknown, Program: programID}
		var err error
		switch {
		case programID.Equals(SystemProgramID):
			err = describeSystemTransfer(&summary, instruction, accountKeys)
		case programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID):
			err = describeTransferChecked(&summary, instruction, accountKeys)
		case programID.Equals(AssociatedTokenProgramID):
			err = describeCreateTokenAccount(&summary, instruction, accountKeys)
		}
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out = append(out, summary)
	}
	return out, nil
}

// describeSystemTransfer decodes a System Program Transfer.
func describeSystemTransfer(s *InstructionSummary, instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) error {
	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}
	if binary.LittleEndian.Uint32(instruction.Data[0:4]) != SystemProgramTransferInstruction {
		return nil
	}

	s.Kind = KindSystemTransfer
	s.Amount = binary.LittleEndian.Uint64(instruction.Data[4:12])
	// accounts: [from, to]
	s.Source = accountAt(instruction, accountKeys, 0)
	s.Destination = accountAt(instruction, accountKeys, 1)
	return nil
}

// describeTransferChecked decodes an SPL Token / Token-2022 TransferChecked.
func describeTransferChecked(s *InstructionSummary, instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) error {
	if len(instruction.Data) == 0 {
		return fmt.Errorf("empty instruction data")
	}
	if instruction.Data[0] != TokenProgramTransferCheckedInstruction {
		return nil
	}
	// [0]     = instruction type (u8, 12 = TransferChecked)
	// [1..9]  = amount (u64)
	// [9]     = decimals (u8)
	if len(instruction.Data) < 10 {
		return fmt.Errorf("transferChecked instruction data too short")
	}
	if len(instruction.Accounts) < 4 {
		return fmt.Errorf("transferChecked missing accounts")
	}

	decimals := instruction.Data[9]
	s.Kind = KindTransferChecked
	s.Amount = binary.LittleEndian.Uint64(instruction.Data[1:9])
	s.Decimals = &decimals
	// accounts: [source, mint, destination, authority, ...]
	s.Source = accountAt(instruction, accountKeys, 0)
	s.Mint = accountAt(instruction, accountKeys, 1)
	s.Destination = accountAt(instruction, accountKeys, 2)
	s.Owner = accountAt(instruction, accountKeys, 3)
	return nil
}

// describeCreateTokenAccount decodes an associated token account Create.
func describeCreateTokenAccount(s *InstructionSummary, instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) error {
	// accounts: [payer, ata, owner, mint, system program, token program]
	if len(instruction.Accounts) < 6 {
		return fmt.Errorf("create associated token account missing accounts")
	}
	s.Kind = KindCreateTokenAccount
	s.Source = accountAt(instruction, accountKeys, 0)
	s.Destination = accountAt(instruction, accountKeys, 1)
	s.Owner = accountAt(instruction, accountKeys, 2)
	s.Mint = accountAt(instruction, accountKeys, 3)
	return nil
}

func accountAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, i int) *solana.PublicKey {
	if i >= len(instruction.Accounts) {
		return nil
	}
	idx := instruction.Accounts[i]
	if int(idx) >= len(accountKeys) {
		return nil
	}
	addr := accountKeys[idx]
	return &addr
}
