package transfer

import (
	"context"
	"math/big"

	"github.com/brojonat/solsend/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// BalanceReader is implemented by connections that can read wallet balances.
type BalanceReader interface {
	Balance(ctx context.Context, owner solanago.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, tokenAccount solanago.PublicKey) (*solana.TokenBalance, error)
}

// Balance returns what the session's wallet holds of asset, in display units.
// Token balances are read from the wallet's associated token account; a wallet
// without one fails with KindNoSourceTokenAccount.
func (t *Transferer) Balance(ctx context.Context, session Session, asset AssetRef) (string, error) {
	if session == nil {
		return "", errNoWallet()
	}
	conn, err := session.Connection(ctx)
	if err != nil {
		return "", newError(KindNetworkError, "failed to connect to Solana", err)
	}
	reader, ok := conn.(BalanceReader)
	if !ok {
		return "", newError(KindNetworkError, "connection cannot read balances", nil)
	}
	owner := session.Address()

	if asset.IsNative() {
		lamports, err := reader.Balance(ctx, owner)
		if err != nil {
			return "", newError(KindNetworkError, "failed to read balance", err)
		}
		return displayAmount(lamports, NativeDecimals), nil
	}

	accounts, err := t.resolver.Resolve(ctx, conn, asset, owner, owner)
	if err != nil {
		return "", err
	}
	bal, err := reader.TokenBalance(ctx, accounts.Sender.Address)
	if err != nil {
		return "", newError(KindNetworkError, "failed to read token balance", err)
	}
	return displayAmount(bal.Amount, accounts.Decimals), nil
}

// displayAmount is the inverse of ScaleAmount.
func displayAmount(units uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals)).String()
}
