package transfer

import (
	"strings"

	"github.com/brojonat/solsend/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// NativeDecimals is the lamports-per-SOL exponent.
const NativeDecimals uint8 = 9

// AssetRef identifies what is being moved. The zero value is the native asset.
type AssetRef struct {
	// Mint is the token mint; zero for SOL.
	Mint solanago.PublicKey
	// Decimals is the caller's declared precision. Nil means read it from the mint.
	Decimals *uint8
	// Program is an optional hint. TokenProgramUnknown means read it from the mint.
	Program solana.TokenProgram
}

// NativeAsset returns the reference for SOL.
func NativeAsset() AssetRef {
	return AssetRef{}
}

// TokenAsset returns a reference to a token mint.
func TokenAsset(mint solanago.PublicKey, decimals *uint8) AssetRef {
	return AssetRef{Mint: mint, Decimals: decimals}
}

// IsNative reports whether the asset is SOL.
func (a AssetRef) IsNative() bool {
	return a.Mint.IsZero()
}

// Label is a low-cardinality name used for metrics and logs.
func (a AssetRef) Label() string {
	if a.IsNative() {
		return "native"
	}
	return "token"
}

func (a AssetRef) String() string {
	if a.IsNative() {
		return "SOL"
	}
	return a.Mint.String()
}

// ParseAssetRef builds an AssetRef from caller-supplied strings.
// An empty mint, "native", or the system program id select SOL.
func ParseAssetRef(mint string, decimals *uint8, program string) (AssetRef, error) {
	mint = strings.TrimSpace(mint)
	if mint == "" || strings.EqualFold(mint, "native") || mint == solana.SystemProgramID.String() {
		return NativeAsset(), nil
	}

	key, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return AssetRef{}, newError(KindUnsupportedAsset, "Invalid token address", err)
	}

	hint, err := solana.ParseTokenProgram(program)
	if err != nil {
		return AssetRef{}, newError(KindUnsupportedAsset, "Unsupported token program", err)
	}

	ref := TokenAsset(key, decimals)
	ref.Program = hint
	return ref, nil
}
