package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/solsend/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendCommand_Success(t *testing.T) {
	var got client.TransferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/transfers" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(client.Outcome{
			Status:      "success",
			Signature:   "Sig111",
			ExplorerURL: "https://solscan.io/tx/Sig111",
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := newTestApp(&out, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "send", "--mint", "native", testRecipient, "0.25"})
	require.NoError(t, err)

	assert.Equal(t, testRecipient, got.Recipient)
	assert.Equal(t, "0.25", got.Amount)
	assert.Equal(t, "native", got.Mint)
	assert.Contains(t, out.String(), "✓ Transfer submitted")
	assert.Contains(t, out.String(), "Sig111")
}

func TestClientSendCommand_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(client.Outcome{
			Status:  "failure",
			Kind:    "InvalidAmount",
			Message: "Amount exceeds available balance",
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := newTestApp(&out, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "send", testRecipient, "99"})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "InvalidAmount")
	assert.Contains(t, out.String(), "✗ Transfer failed")
	assert.Contains(t, out.String(), "Amount exceeds available balance")
	assert.NotContains(t, out.String(), "A new attempt may succeed")
}

func TestClientSendCommand_RetryableFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(client.Outcome{
			Status:    "failure",
			Kind:      "NetworkError",
			Message:   "connection refused",
			Retryable: true,
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := newTestApp(&out, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "send", testRecipient, "1"})
	require.Error(t, err)
	assert.Contains(t, out.String(), "A new attempt may succeed")
}

func TestClientSendCommand_InFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"a transfer from this wallet is already in flight"}`))
	}))
	defer srv.Close()

	app := newTestApp(&bytes.Buffer{}, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "send", testRecipient, "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a transfer in flight")
}

func TestClientSendCommand_AsyncWait(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/transfers/async":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"workflow_id":"transfer-abc","status":"running"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/transfers/async/transfer-abc":
			polls++
			_ = json.NewEncoder(w).Encode(client.AsyncStatus{
				WorkflowID: "transfer-abc",
				Status:     "completed",
				Result: &client.AsyncResult{
					WorkflowID:  "transfer-abc",
					Asset:       "native",
					Outcome:     client.Outcome{Status: "success", Signature: "Sig222"},
					Recorded:    true,
					CompletedAt: time.Now(),
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := newTestApp(&out, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "send", "--async", "--wait", "--timeout", "10s", testRecipient, "1"})
	require.NoError(t, err)

	assert.Equal(t, 1, polls)
	assert.Contains(t, out.String(), "Workflow: transfer-abc")
	assert.Contains(t, out.String(), "Status:   completed")
	assert.Contains(t, out.String(), "Sig222")
}

func TestClientSendCommand_AsyncRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"status":"failure","kind":"InvalidRecipient","message":"Invalid recipient address"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := newTestApp(&out, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "send", "--async", "bogus", "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidRecipient")
	assert.Contains(t, out.String(), "Invalid recipient address")
}

func TestClientStatusCommand_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"workflow not found"}`))
	}))
	defer srv.Close()

	app := newTestApp(&bytes.Buffer{}, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "status", "transfer-missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transfer-missing not found")
}

func TestClientListCommand(t *testing.T) {
	sig := "Sig333"
	kind := "NetworkError"
	var path, sender, limit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		sender = r.URL.Query().Get("sender")
		limit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"transfers": []client.Transfer{
				{ID: 2, Sender: "Sender111", Recipient: "Recipient111", Asset: "native", Amount: "1", Status: "success", Signature: &sig},
				{ID: 1, Sender: "Sender111", Recipient: "Recipient222", Asset: "native", Amount: "2", Status: "failure", ErrorKind: &kind},
			},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := newTestApp(&out, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "list", "--sender", "Sender111", "--limit", "5"})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/transfers", path)
	assert.Equal(t, "Sender111", sender)
	assert.Equal(t, "5", limit)

	s := out.String()
	assert.Contains(t, s, "Sig333")
	assert.Contains(t, s, "NetworkError")
	assert.Contains(t, s, "Total: 2 transfers")
}

func TestClientWalletCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"connected":false,"network":"devnet","mode":"none"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := newTestApp(&out, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "wallet"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "No wallet connected (network: devnet)")
}

func TestClientBalanceCommand(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(client.BalanceInfo{
			Address: testRecipient,
			Network: "devnet",
			Asset:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Balance: "12.5",
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	app := newTestApp(&out, srv.URL, clientCommands())
	err := app.Run([]string{"solsend", "client", "balance", "--mint", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/wallet/balance?mint=EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", gotPath)
	assert.Contains(t, out.String(), "12.5 EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
}
