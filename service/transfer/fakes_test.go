package transfer

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/brojonat/solsend/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

var (
	testSender    = solanago.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	testRecipient = solanago.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	testMint      = solanago.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	testSignature = solanago.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	testBlockhash = solanago.HashFromBytes([]byte("0123456789abcdef0123456789abcdef"))
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mintData lays out an initialized 82-byte SPL mint account.
func mintData(decimals uint8) []byte {
	data := make([]byte, 82)
	data[44] = decimals
	data[45] = 1
	return data
}

// fakeConn is an in-memory chain. Accounts not in the map do not exist.
type fakeConn struct {
	mu           sync.Mutex
	network      solana.Network
	accounts     map[solanago.PublicKey]*solana.AccountInfo
	accountErr   error
	blockhashErr error
	calls        int

	lamports      uint64
	tokenBalances map[solanago.PublicKey]uint64
	balanceErr    error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		network:       solana.Devnet,
		accounts:      make(map[solanago.PublicKey]*solana.AccountInfo),
		tokenBalances: make(map[solanago.PublicKey]uint64),
	}
}

func (c *fakeConn) LatestCheckpoint(ctx context.Context) (solanago.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.blockhashErr != nil {
		return solanago.Hash{}, c.blockhashErr
	}
	return testBlockhash, nil
}

func (c *fakeConn) AccountInfo(ctx context.Context, address solanago.PublicKey) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.accountErr != nil {
		return nil, c.accountErr
	}
	return c.accounts[address], nil
}

func (c *fakeConn) Network() solana.Network {
	return c.network
}

func (c *fakeConn) Balance(ctx context.Context, owner solanago.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.lamports, c.balanceErr
}

func (c *fakeConn) TokenBalance(ctx context.Context, tokenAccount solanago.PublicKey) (*solana.TokenBalance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	return &solana.TokenBalance{Amount: c.tokenBalances[tokenAccount]}, nil
}

func (c *fakeConn) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// withMint registers a mint owned by the given program.
func (c *fakeConn) withMint(mint solanago.PublicKey, program solana.TokenProgram, decimals uint8) *fakeConn {
	c.accounts[mint] = &solana.AccountInfo{Address: mint, Owner: program.ID(), Data: mintData(decimals)}
	return c
}

// withTokenAccount registers owner's associated token account for mint.
func (c *fakeConn) withTokenAccount(owner, mint solanago.PublicKey, program solana.TokenProgram) *fakeConn {
	ata, err := solana.FindAssociatedTokenAddress(owner, mint, program)
	if err != nil {
		panic(err)
	}
	c.accounts[ata] = &solana.AccountInfo{Address: ata, Owner: program.ID(), Lamports: 2039280}
	return c
}

// fakeSigner records what it was asked to sign.
type fakeSigner struct {
	mu     sync.Mutex
	result SendResult
	err    error
	sent   []*solanago.Transaction
}

func (s *fakeSigner) SignAndSend(ctx context.Context, tx *solanago.Transaction) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, tx)
	if s.err != nil {
		return SendResult{}, s.err
	}
	return s.result, nil
}

type fakeSession struct {
	address   solanago.PublicKey
	conn      Connection
	signer    Signer
	connErr   error
	signerErr error
}

func (s *fakeSession) Address() solanago.PublicKey {
	return s.address
}

func (s *fakeSession) Connection(ctx context.Context) (Connection, error) {
	if s.connErr != nil {
		return nil, s.connErr
	}
	return s.conn, nil
}

func (s *fakeSession) Signer(ctx context.Context) (Signer, error) {
	if s.signerErr != nil {
		return nil, s.signerErr
	}
	return s.signer, nil
}

func newFakeSession(conn *fakeConn) (*fakeSession, *fakeSigner) {
	signer := &fakeSigner{result: SendResult{Signature: testSignature}}
	return &fakeSession{address: testSender, conn: conn, signer: signer}, signer
}

func ptr[T any](v T) *T {
	return &v
}
