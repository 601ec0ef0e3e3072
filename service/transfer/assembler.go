package transfer

import (
	"fmt"

	"github.com/brojonat/solsend/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
)

var maxUint64 = decimal.RequireFromString("18446744073709551615")

// ScaleAmount converts a display amount into smallest units, rounding half away
// from zero. This is the only place a display amount becomes an integer, so very
// small amounts can lose precision; amounts that round to zero are rejected.
func ScaleAmount(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if !exponentInRange(amount) {
		return 0, newError(KindInvalidAmount, "Invalid amount", nil)
	}
	scaled := amount.Shift(int32(decimals)).Round(0)
	if !scaled.IsPositive() {
		return 0, newError(KindInvalidAmount,
			fmt.Sprintf("Amount is smaller than the minimum unit (%s)", decimal.New(1, -int32(decimals))), nil)
	}
	if scaled.GreaterThan(maxUint64) {
		return 0, newError(KindInvalidAmount, "Amount is too large", nil)
	}
	return scaled.BigInt().Uint64(), nil
}

// AssembleNative returns the single System Program transfer for a SOL payment.
func AssembleNative(sender, recipient solanago.PublicKey, lamports uint64) []solanago.Instruction {
	return []solanago.Instruction{
		system.NewTransferInstruction(lamports, sender, recipient).Build(),
	}
}

// AssembleToken returns the ordered instructions for a token payment: an
// associated token account creation when the recipient has none, then a
// TransferChecked carrying both the amount and the expected decimals.
func AssembleToken(sender, recipient solanago.PublicKey, accounts *ResolvedAccounts, amount uint64) ([]solanago.Instruction, error) {
	if accounts == nil {
		return nil, fmt.Errorf("token accounts not resolved")
	}
	programID := accounts.Program.ID()
	if programID.IsZero() {
		return nil, newError(KindUnsupportedAsset, "Unsupported token program", solana.ErrUnsupportedTokenProgram)
	}

	instructions := make([]solanago.Instruction, 0, 2)
	if !accounts.Recipient.Exists {
		instructions = append(instructions,
			createAssociatedTokenAccount(sender, accounts.Recipient.Address, recipient, accounts.Mint, programID))
	}

	transfer, err := transferChecked(amount, accounts.Decimals,
		accounts.Sender.Address, accounts.Mint, accounts.Recipient.Address, sender, programID)
	if err != nil {
		return nil, err
	}
	return append(instructions, transfer), nil
}

// createAssociatedTokenAccount builds the associated token program's Create.
// solana-go's helper hardcodes the legacy token program, so the accounts are
// listed explicitly.
func createAssociatedTokenAccount(payer, account, owner, mint, tokenProgram solanago.PublicKey) solanago.Instruction {
	return solanago.NewInstruction(
		solana.AssociatedTokenProgramID,
		solanago.AccountMetaSlice{
			solanago.Meta(payer).WRITE().SIGNER(),
			solanago.Meta(account).WRITE(),
			solanago.Meta(owner),
			solanago.Meta(mint),
			solanago.Meta(solana.SystemProgramID),
			solanago.Meta(tokenProgram),
		},
		[]byte{},
	)
}

// transferChecked encodes a TransferChecked and points it at the mint's program.
// Token-2022 shares the legacy instruction layout.
func transferChecked(amount uint64, decimals uint8, source, mint, destination, owner, tokenProgram solanago.PublicKey) (solanago.Instruction, error) {
	inst := token.NewTransferCheckedInstruction(amount, decimals, source, mint, destination, owner, nil).Build()
	data, err := inst.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer instruction: %w", err)
	}
	return solanago.NewInstruction(tokenProgram, inst.Accounts(), data), nil
}
