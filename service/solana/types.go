package solana

import (
	"github.com/gagliardetto/solana-go"
)

// AccountInfo is the subset of on-chain account state the transfer path needs.
// This is our domain model, independent of the RPC response format.
type AccountInfo struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey // owning program
	Lamports uint64
	Data     []byte
}

// TokenBalance is a token account balance in both smallest units and display units.
type TokenBalance struct {
	Amount   uint64
	Decimals uint8
	UIAmount string
}
