package solana

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Network is the Solana cluster a client talks to.
type Network string

const (
	Mainnet Network = "mainnet"
	Devnet  Network = "devnet"
)

// ExplorerBaseURL is the block explorer used for transaction links.
const ExplorerBaseURL = "https://solscan.io/tx/"

// ParseNetwork validates a network name.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case Mainnet, "mainnet-beta":
		return Mainnet, nil
	case Devnet:
		return Devnet, nil
	}
	return "", fmt.Errorf("invalid network %q: must be 'mainnet' or 'devnet'", s)
}

// NetworkFromEndpoint infers the network from an RPC URL.
// Anything that does not mention devnet is treated as mainnet.
func NetworkFromEndpoint(rpcURL string) Network {
	if strings.Contains(strings.ToLower(rpcURL), "devnet") {
		return Devnet
	}
	return Mainnet
}

// ExplorerURL builds a Solscan link for a transaction signature.
func ExplorerURL(signature solana.Signature, network Network) string {
	cluster := Mainnet
	if network == Devnet {
		cluster = Devnet
	}
	return fmt.Sprintf("%s%s?cluster=%s", ExplorerBaseURL, signature.String(), cluster)
}
