package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/solsend/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_RecipientMissing(t *testing.T) {
	conn := newFakeConn().
		withMint(testMint, solana.TokenProgramLegacy, 6).
		withTokenAccount(testSender, testMint, solana.TokenProgramLegacy)

	got, err := NewResolver(discardLogger()).Resolve(context.Background(), conn, TokenAsset(testMint, nil), testSender, testRecipient)
	require.NoError(t, err)

	assert.Equal(t, solana.TokenProgramLegacy, got.Program)
	assert.Equal(t, uint8(6), got.Decimals) // read from the mint
	assert.True(t, got.Sender.Exists)
	assert.False(t, got.Recipient.Exists)

	wantRecipient, err := solana.FindAssociatedTokenAddress(testRecipient, testMint, solana.TokenProgramLegacy)
	require.NoError(t, err)
	assert.Equal(t, wantRecipient, got.Recipient.Address)
}

func TestResolve_Token2022(t *testing.T) {
	conn := newFakeConn().
		withMint(testMint, solana.TokenProgram2022, 9).
		withTokenAccount(testSender, testMint, solana.TokenProgram2022).
		withTokenAccount(testRecipient, testMint, solana.TokenProgram2022)

	got, err := NewResolver(discardLogger()).Resolve(context.Background(), conn, TokenAsset(testMint, nil), testSender, testRecipient)
	require.NoError(t, err)

	assert.Equal(t, solana.TokenProgram2022, got.Program)
	assert.True(t, got.Recipient.Exists)

	// Derivation must use the mint's program, not the legacy default.
	legacy, err := solana.FindAssociatedTokenAddress(testSender, testMint, solana.TokenProgramLegacy)
	require.NoError(t, err)
	assert.NotEqual(t, legacy, got.Sender.Address)
}

func TestResolve_DeclaredDecimalsWin(t *testing.T) {
	conn := newFakeConn().
		withMint(testMint, solana.TokenProgramLegacy, 6).
		withTokenAccount(testSender, testMint, solana.TokenProgramLegacy)

	got, err := NewResolver(discardLogger()).Resolve(context.Background(), conn, TokenAsset(testMint, ptr(uint8(2))), testSender, testRecipient)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), got.Decimals)
}

func TestResolve_SenderMissing(t *testing.T) {
	conn := newFakeConn().
		withMint(testMint, solana.TokenProgramLegacy, 6).
		withTokenAccount(testRecipient, testMint, solana.TokenProgramLegacy)

	_, err := NewResolver(discardLogger()).Resolve(context.Background(), conn, TokenAsset(testMint, nil), testSender, testRecipient)
	require.Error(t, err)
	assert.Equal(t, KindNoSourceTokenAccount, KindOf(err))
	assert.Equal(t, "You do not have a token account for this token. Please ensure you have a balance.", err.Error())
}

func TestResolve_SenderAccountWrongProgram(t *testing.T) {
	// An account at the derived address owned by another program is not a token account.
	conn := newFakeConn().withMint(testMint, solana.TokenProgramLegacy, 6)
	ata, err := solana.FindAssociatedTokenAddress(testSender, testMint, solana.TokenProgramLegacy)
	require.NoError(t, err)
	conn.accounts[ata] = &solana.AccountInfo{Address: ata, Owner: solana.SystemProgramID}

	_, err = NewResolver(discardLogger()).Resolve(context.Background(), conn, TokenAsset(testMint, nil), testSender, testRecipient)
	assert.Equal(t, KindNoSourceTokenAccount, KindOf(err))
}

func TestResolve_UnsupportedMints(t *testing.T) {
	t.Run("mint not found", func(t *testing.T) {
		_, err := NewResolver(discardLogger()).Resolve(context.Background(), newFakeConn(), TokenAsset(testMint, nil), testSender, testRecipient)
		assert.Equal(t, KindUnsupportedAsset, KindOf(err))
		assert.Contains(t, err.Error(), "token mint not found")
	})

	t.Run("mint owned by unknown program", func(t *testing.T) {
		conn := newFakeConn()
		conn.accounts[testMint] = &solana.AccountInfo{Address: testMint, Owner: solana.SystemProgramID, Data: mintData(6)}

		_, err := NewResolver(discardLogger()).Resolve(context.Background(), conn, TokenAsset(testMint, nil), testSender, testRecipient)
		assert.Equal(t, KindUnsupportedAsset, KindOf(err))
		assert.ErrorIs(t, err, solana.ErrUnsupportedTokenProgram)
	})

	t.Run("program hint mismatch", func(t *testing.T) {
		conn := newFakeConn().withMint(testMint, solana.TokenProgramLegacy, 6)
		asset := TokenAsset(testMint, nil)
		asset.Program = solana.TokenProgram2022

		_, err := NewResolver(discardLogger()).Resolve(context.Background(), conn, asset, testSender, testRecipient)
		assert.Equal(t, KindUnsupportedAsset, KindOf(err))
	})
}

func TestResolve_NetworkError(t *testing.T) {
	conn := newFakeConn()
	conn.accountErr = errors.New("dial tcp: i/o timeout")

	_, err := NewResolver(discardLogger()).Resolve(context.Background(), conn, TokenAsset(testMint, nil), testSender, testRecipient)
	require.Error(t, err)
	assert.Equal(t, KindNetworkError, KindOf(err))
	assert.True(t, KindOf(err).Retryable())
}

func TestResolve_Idempotent(t *testing.T) {
	conn := newFakeConn().
		withMint(testMint, solana.TokenProgramLegacy, 6).
		withTokenAccount(testSender, testMint, solana.TokenProgramLegacy)
	r := NewResolver(discardLogger())

	first, err := r.Resolve(context.Background(), conn, TokenAsset(testMint, nil), testSender, testRecipient)
	require.NoError(t, err)
	callsAfterFirst := conn.callCount()

	second, err := r.Resolve(context.Background(), conn, TokenAsset(testMint, nil), testSender, testRecipient)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// Nothing is cached: the second attempt reads chain state again.
	assert.Equal(t, 2*callsAfterFirst, conn.callCount())
}
