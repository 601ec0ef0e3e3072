package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/solsend/service/audit"
	"github.com/brojonat/solsend/service/config"
	"github.com/brojonat/solsend/service/db"
	"github.com/brojonat/solsend/service/guard"
	"github.com/brojonat/solsend/service/nats"
	"github.com/brojonat/solsend/service/solana"
	"github.com/brojonat/solsend/service/temporal"
	"github.com/brojonat/solsend/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSender    = solanago.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	testRecipient = solanago.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	testSignature = solanago.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a chain with no accounts; enough for native transfers.
type fakeConn struct{}

func (fakeConn) LatestCheckpoint(ctx context.Context) (solanago.Hash, error) {
	return solanago.HashFromBytes([]byte("0123456789abcdef0123456789abcdef")), nil
}

func (fakeConn) AccountInfo(ctx context.Context, address solanago.PublicKey) (*solana.AccountInfo, error) {
	return nil, nil
}

func (fakeConn) Network() solana.Network {
	return solana.Devnet
}

func (fakeConn) Balance(ctx context.Context, owner solanago.PublicKey) (uint64, error) {
	return 1500000000, nil
}

func (fakeConn) TokenBalance(ctx context.Context, tokenAccount solanago.PublicKey) (*solana.TokenBalance, error) {
	return nil, fmt.Errorf("no token accounts")
}

type fakeSigner struct {
	err   error
	calls int
}

func (s *fakeSigner) SignAndSend(ctx context.Context, tx *solanago.Transaction) (transfer.SendResult, error) {
	s.calls++
	if s.err != nil {
		return transfer.SendResult{}, s.err
	}
	return transfer.SendResult{Signature: testSignature}, nil
}

type fakeSession struct {
	signer *fakeSigner
}

func (s *fakeSession) Address() solanago.PublicKey {
	return testSender
}

func (s *fakeSession) Connection(ctx context.Context) (transfer.Connection, error) {
	return fakeConn{}, nil
}

func (s *fakeSession) Signer(ctx context.Context) (transfer.Signer, error) {
	return s.signer, nil
}

type fakeLister struct {
	params    db.ListTransfersParams
	transfers []*db.Transfer
	err       error
}

func (l *fakeLister) ListTransfers(ctx context.Context, params db.ListTransfersParams) ([]*db.Transfer, error) {
	l.params = params
	return l.transfers, l.err
}

type fakeWorkflows struct {
	started []temporal.TransferWorkflowInput
	status  *temporal.TransferStatus
	err     error
}

func (f *fakeWorkflows) StartTransfer(ctx context.Context, input temporal.TransferWorkflowInput) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, input)
	return fmt.Sprintf("transfer-%d", len(f.started)), nil
}

func (f *fakeWorkflows) GetTransferStatus(ctx context.Context, workflowID string) (*temporal.TransferStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.status == nil || f.status.WorkflowID != workflowID {
		return nil, temporal.ErrWorkflowNotFound
	}
	return f.status, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:        ":0",
		SolanaNetwork:     solana.Devnet,
		InflightTTL:       time.Minute,
		SignerTimeout:     30 * time.Second,
		TransferListLimit: 100,
	}
}

func newTestHandler(deps Deps) http.Handler {
	if deps.Transferer == nil {
		deps.Transferer = transfer.NewTransferer(nil, discardLogger())
	}
	return New(testConfig(), deps, discardLogger()).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeOutcome(t *testing.T, w *httptest.ResponseRecorder) transfer.Outcome {
	t.Helper()
	var outcome transfer.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome), w.Body.String())
	return outcome
}

func TestHandleTransfer(t *testing.T) {
	tests := []struct {
		name           string
		session        func() transfer.Session
		body           string
		expectedStatus int
		expectedKind   transfer.Kind
	}{
		{
			name:           "native transfer succeeds",
			session:        func() transfer.Session { return &fakeSession{signer: &fakeSigner{}} },
			body:           fmt.Sprintf(`{"recipient":%q,"amount":"0.5","balance":"1"}`, testRecipient),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid recipient",
			session:        func() transfer.Session { return &fakeSession{signer: &fakeSigner{}} },
			body:           `{"recipient":"not-an-address","amount":"0.5"}`,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedKind:   transfer.KindInvalidRecipient,
		},
		{
			name:           "amount exceeds balance",
			session:        func() transfer.Session { return &fakeSession{signer: &fakeSigner{}} },
			body:           fmt.Sprintf(`{"recipient":%q,"amount":"2","balance":"1"}`, testRecipient),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedKind:   transfer.KindInvalidAmount,
		},
		{
			name:           "unsupported asset",
			session:        func() transfer.Session { return &fakeSession{signer: &fakeSigner{}} },
			body:           fmt.Sprintf(`{"recipient":%q,"amount":"1","mint":"nope"}`, testRecipient),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedKind:   transfer.KindUnsupportedAsset,
		},
		{
			name: "signing rejected",
			session: func() transfer.Session {
				return &fakeSession{signer: &fakeSigner{err: fmt.Errorf("user declined: %w", transfer.ErrSigningRejected)}}
			},
			body:           fmt.Sprintf(`{"recipient":%q,"amount":"0.5"}`, testRecipient),
			expectedStatus: http.StatusBadGateway,
			expectedKind:   transfer.KindSigningRejected,
		},
		{
			name:           "no wallet connected",
			session:        func() transfer.Session { return nil },
			body:           fmt.Sprintf(`{"recipient":%q,"amount":"0.5"}`, testRecipient),
			expectedStatus: http.StatusServiceUnavailable,
			expectedKind:   transfer.KindNoWalletConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(Deps{Session: tt.session()})

			w := do(t, h, "POST", "/api/v1/transfers", tt.body)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			outcome := decodeOutcome(t, w)
			assert.Equal(t, tt.expectedKind, outcome.Kind)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, transfer.StatusSuccess, outcome.Status)
				assert.Equal(t, testSignature.String(), outcome.Signature)
				assert.Equal(t, "https://solscan.io/tx/"+testSignature.String()+"?cluster=devnet", outcome.ExplorerURL)
			} else {
				assert.Equal(t, transfer.StatusFailure, outcome.Status)
				assert.NotEmpty(t, outcome.Message)
				assert.Equal(t, tt.expectedKind.Retryable(), outcome.Retryable)
			}
		})
	}
}

func TestHandleTransfer_MalformedBody(t *testing.T) {
	h := newTestHandler(Deps{})

	w := do(t, h, "POST", "/api/v1/transfers", `{"recipient":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")

	w = do(t, h, "POST", "/api/v1/transfers", `{"recipient":"`+strings.Repeat("A", 1<<17)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "request body too large")
}

func TestHandleTransfer_InFlight(t *testing.T) {
	g := guard.NewLocalGuard(time.Minute)
	signer := &fakeSigner{}
	h := newTestHandler(Deps{Session: &fakeSession{signer: signer}, Guard: g})

	release, err := g.Acquire(context.Background(), testSender.String())
	require.NoError(t, err)

	body := fmt.Sprintf(`{"recipient":%q,"amount":"0.5"}`, testRecipient)
	w := do(t, h, "POST", "/api/v1/transfers", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, signer.calls)

	require.NoError(t, release(context.Background()))
	w = do(t, h, "POST", "/api/v1/transfers", body)
	assert.Equal(t, http.StatusOK, w.Code)

	// the handler released its own hold
	w = do(t, h, "POST", "/api/v1/transfers", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, signer.calls)
}

func TestHandleTransfer_RecordsOutcome(t *testing.T) {
	pub := nats.NewMockPublisher()
	h := newTestHandler(Deps{
		Session:  &fakeSession{signer: &fakeSigner{}},
		Recorder: audit.NewRecorder(nil, pub, discardLogger()),
	})

	w := do(t, h, "POST", "/api/v1/transfers", fmt.Sprintf(`{"recipient":%q,"amount":"2.5"}`, testRecipient))
	require.Equal(t, http.StatusOK, w.Code)

	events := pub.EventsForSender(testSender.String())
	require.Len(t, events, 1)
	assert.Equal(t, "success", events[0].Status)
	assert.Equal(t, "devnet", events[0].Network)
	assert.Equal(t, "native", events[0].Asset)
	require.NotNil(t, events[0].BaseUnits)
	assert.Equal(t, uint64(2500000000), *events[0].BaseUnits)
}

func TestHandleValidate(t *testing.T) {
	h := newTestHandler(Deps{})

	tests := []struct {
		name      string
		body      string
		recipient bool
		amount    bool
	}{
		{"both valid", fmt.Sprintf(`{"recipient":%q,"amount":"1.5","balance":"2"}`, testRecipient), true, true},
		{"bad recipient", `{"recipient":"xyz","amount":"1"}`, false, true},
		{"zero amount", fmt.Sprintf(`{"recipient":%q,"amount":"0"}`, testRecipient), true, false},
		{"over balance", fmt.Sprintf(`{"recipient":%q,"amount":"3","balance":"2"}`, testRecipient), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", "/api/v1/validate", tt.body)
			require.Equal(t, http.StatusOK, w.Code)

			var resp validateResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.recipient, resp.RecipientValid)
			assert.Equal(t, tt.amount, resp.AmountValid)
			assert.Equal(t, tt.recipient, resp.RecipientError == "")
			assert.Equal(t, tt.amount, resp.AmountError == "")
		})
	}
}

func TestHandleWallet(t *testing.T) {
	w := do(t, newTestHandler(Deps{Session: &fakeSession{}}), "GET", "/api/v1/wallet", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp walletResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Connected)
	assert.Equal(t, testSender.String(), resp.Address)
	assert.Equal(t, "devnet", resp.Network)

	w = do(t, newTestHandler(Deps{}), "GET", "/api/v1/wallet", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Connected)
}

func TestHandleBalance(t *testing.T) {
	tests := []struct {
		name           string
		deps           Deps
		path           string
		expectedStatus int
		expectedKind   transfer.Kind
		expectedAmount string
	}{
		{
			name:           "native",
			deps:           Deps{Session: &fakeSession{}},
			path:           "/api/v1/wallet/balance",
			expectedStatus: http.StatusOK,
			expectedAmount: "1.5",
		},
		{
			name:           "unknown mint",
			deps:           Deps{Session: &fakeSession{}},
			path:           "/api/v1/wallet/balance?mint=EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			expectedStatus: http.StatusUnprocessableEntity,
			expectedKind:   transfer.KindUnsupportedAsset,
		},
		{
			name:           "unparseable mint",
			deps:           Deps{Session: &fakeSession{}},
			path:           "/api/v1/wallet/balance?mint=nope",
			expectedStatus: http.StatusUnprocessableEntity,
			expectedKind:   transfer.KindUnsupportedAsset,
		},
		{
			name:           "bad decimals",
			deps:           Deps{Session: &fakeSession{}},
			path:           "/api/v1/wallet/balance?decimals=300",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "no wallet",
			deps:           Deps{},
			path:           "/api/v1/wallet/balance",
			expectedStatus: http.StatusServiceUnavailable,
			expectedKind:   transfer.KindNoWalletConnected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestHandler(tt.deps), "GET", tt.path, "")
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			switch {
			case tt.expectedStatus == http.StatusOK:
				var resp balanceResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, testSender.String(), resp.Address)
				assert.Equal(t, "SOL", resp.Asset)
				assert.Equal(t, tt.expectedAmount, resp.Balance)
			case tt.expectedKind != "":
				assert.Equal(t, tt.expectedKind, decodeOutcome(t, w).Kind)
			}
		})
	}
}

func TestStatusForOutcome(t *testing.T) {
	tests := []struct {
		kind transfer.Kind
		want int
	}{
		{transfer.KindInvalidRecipient, http.StatusUnprocessableEntity},
		{transfer.KindInvalidAmount, http.StatusUnprocessableEntity},
		{transfer.KindUnsupportedAsset, http.StatusUnprocessableEntity},
		{transfer.KindNoSourceTokenAccount, http.StatusUnprocessableEntity},
		{transfer.KindNoWalletConnected, http.StatusServiceUnavailable},
		{transfer.KindNetworkError, http.StatusBadGateway},
		{transfer.KindSigningRejected, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForOutcome(transfer.Outcome{Status: transfer.StatusFailure, Kind: tt.kind}))
		})
	}
	assert.Equal(t, http.StatusOK, statusForOutcome(transfer.Outcome{Status: transfer.StatusSuccess}))
}

func TestAsyncTransfer(t *testing.T) {
	workflows := &fakeWorkflows{}
	h := newTestHandler(Deps{Workflows: workflows})

	w := do(t, h, "POST", "/api/v1/transfers/async", fmt.Sprintf(`{"recipient":%q,"amount":"0.5"}`, testRecipient))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, "transfer-1", started["workflow_id"])
	require.Len(t, workflows.started, 1)
	assert.Equal(t, "0.5", workflows.started[0].Amount)

	// validation failures never start a workflow
	w = do(t, h, "POST", "/api/v1/transfers/async", `{"recipient":"bad","amount":"0.5"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, transfer.KindInvalidRecipient, decodeOutcome(t, w).Kind)
	assert.Len(t, workflows.started, 1)

	workflows.status = &temporal.TransferStatus{
		WorkflowID: "transfer-1",
		Status:     temporal.StatusCompleted,
		Result: &temporal.TransferWorkflowResult{
			WorkflowID: "transfer-1",
			Outcome:    transfer.Outcome{Status: transfer.StatusSuccess, Signature: testSignature.String()},
		},
	}
	w = do(t, h, "GET", "/api/v1/transfers/async/transfer-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status temporal.TransferStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, temporal.StatusCompleted, status.Status)
	require.NotNil(t, status.Result)
	assert.Equal(t, testSignature.String(), status.Result.Outcome.Signature)

	w = do(t, h, "GET", "/api/v1/transfers/async/transfer-404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAsyncTransfer_Disabled(t *testing.T) {
	h := newTestHandler(Deps{})
	w := do(t, h, "POST", "/api/v1/transfers/async", fmt.Sprintf(`{"recipient":%q,"amount":"0.5"}`, testRecipient))
	assert.NotEqual(t, http.StatusAccepted, w.Code)
}

func TestHandleListTransfers(t *testing.T) {
	sig := testSignature.String()
	lister := &fakeLister{transfers: []*db.Transfer{{
		ID:        7,
		Sender:    testSender.String(),
		Recipient: testRecipient.String(),
		Network:   "devnet",
		Asset:     "native",
		Amount:    "0.5",
		Status:    "success",
		Signature: &sig,
	}}}
	h := newTestHandler(Deps{Store: lister})

	w := do(t, h, "GET", "/api/v1/transfers?sender="+testSender.String()+"&limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, db.ListTransfersParams{Sender: testSender.String(), Limit: 10, Offset: 5}, lister.params)

	var resp struct {
		Transfers []transferResponse `json:"transfers"`
		Count     int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, int64(7), resp.Transfers[0].ID)
	assert.Equal(t, &sig, resp.Transfers[0].Signature)

	w = do(t, h, "GET", "/api/v1/transfers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(100), lister.params.Limit)
	assert.Empty(t, lister.params.Sender)

	tests := []struct {
		query string
		want  string
	}{
		{"?sender=zzz", "invalid sender address"},
		{"?limit=abc", "invalid limit parameter"},
		{"?limit=0", "limit must be at least 1"},
		{"?limit=1001", "limit cannot exceed 1000"},
		{"?offset=-1", "offset cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(t, h, "GET", "/api/v1/transfers"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestHandleListTransfers_NoStore(t *testing.T) {
	w := do(t, newTestHandler(Deps{}), "GET", "/api/v1/transfers", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	h := newTestHandler(Deps{})

	w := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = do(t, h, "OPTIONS", "/api/v1/transfers", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
