package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/solsend/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// Connection is the network handle the pipeline reads chain state through.
type Connection interface {
	LatestCheckpoint(ctx context.Context) (solanago.Hash, error)
	AccountInfo(ctx context.Context, address solanago.PublicKey) (*solana.AccountInfo, error)
	Network() solana.Network
}

// TokenAccount is a derived associated token account and whether it is live.
type TokenAccount struct {
	Address solanago.PublicKey
	Exists  bool
}

// ResolvedAccounts is everything the token path learns from chain state.
// It is recomputed for every attempt.
type ResolvedAccounts struct {
	Program   solana.TokenProgram
	Mint      solanago.PublicKey
	Decimals  uint8
	Sender    TokenAccount
	Recipient TokenAccount
}

// Resolver derives and looks up token accounts for a transfer.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve reads the mint to learn its owning program and precision, derives the
// sender's and recipient's associated token accounts under that program, and
// checks both for existence. A missing sender account fails the attempt with
// KindNoSourceTokenAccount; a missing recipient account is reported, not an error.
func (r *Resolver) Resolve(ctx context.Context, conn Connection, asset AssetRef, sender, recipient solanago.PublicKey) (*ResolvedAccounts, error) {
	if asset.IsNative() {
		return nil, fmt.Errorf("resolve called for native asset")
	}

	mintInfo, err := conn.AccountInfo(ctx, asset.Mint)
	if err != nil {
		return nil, newError(KindNetworkError, "failed to read token mint", err)
	}
	if mintInfo == nil {
		return nil, newError(KindUnsupportedAsset, "token mint not found", nil)
	}

	program, err := solana.TokenProgramForOwner(mintInfo.Owner)
	if err != nil {
		return nil, newError(KindUnsupportedAsset, "Unsupported token program", err)
	}
	if asset.Program != solana.TokenProgramUnknown && asset.Program != program {
		return nil, newError(KindUnsupportedAsset,
			fmt.Sprintf("mint is governed by %s, not %s", program, asset.Program), nil)
	}

	var decimals uint8
	if asset.Decimals != nil {
		decimals = *asset.Decimals
	} else {
		decimals, err = solana.DecodeMintDecimals(mintInfo.Data)
		if err != nil {
			return nil, newError(KindUnsupportedAsset, "failed to read mint decimals", err)
		}
	}

	senderATA, err := solana.FindAssociatedTokenAddress(sender, asset.Mint, program)
	if err != nil {
		return nil, err
	}
	recipientATA, err := solana.FindAssociatedTokenAddress(recipient, asset.Mint, program)
	if err != nil {
		return nil, err
	}

	out := &ResolvedAccounts{
		Program:   program,
		Mint:      asset.Mint,
		Decimals:  decimals,
		Sender:    TokenAccount{Address: senderATA},
		Recipient: TokenAccount{Address: recipientATA},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		exists, err := tokenAccountExists(gctx, conn, senderATA, program)
		out.Sender.Exists = exists
		return err
	})
	g.Go(func() error {
		exists, err := tokenAccountExists(gctx, conn, recipientATA, program)
		out.Recipient.Exists = exists
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, newError(KindNetworkError, "failed to look up token accounts", err)
	}

	r.logger.DebugContext(ctx, "resolved token accounts",
		"mint", asset.Mint.String(),
		"program", program.String(),
		"decimals", decimals,
		"sender_account", senderATA.String(),
		"sender_exists", out.Sender.Exists,
		"recipient_account", recipientATA.String(),
		"recipient_exists", out.Recipient.Exists,
	)

	if !out.Sender.Exists {
		return nil, newError(KindNoSourceTokenAccount,
			"You do not have a token account for this token. Please ensure you have a balance.", nil)
	}
	return out, nil
}

// tokenAccountExists treats an account owned by anything other than the token
// program as absent.
func tokenAccountExists(ctx context.Context, conn Connection, address solanago.PublicKey, program solana.TokenProgram) (bool, error) {
	info, err := conn.AccountInfo(ctx, address)
	if err != nil {
		return false, err
	}
	return info != nil && info.Owner.Equals(program.ID()), nil
}
