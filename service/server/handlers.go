package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solsend/service/audit"
	"github.com/brojonat/solsend/service/db"
	"github.com/brojonat/solsend/service/guard"
	"github.com/brojonat/solsend/service/metrics"
	"github.com/brojonat/solsend/service/temporal"
	"github.com/brojonat/solsend/service/transfer"
)

const (
	maxRequestBodySize = 1 << 16
	maxListLimit       = 1000
)

// transferRequest is the JSON body of a transfer. Amount and Balance are
// decimal strings in display units.
type transferRequest struct {
	Recipient string  `json:"recipient"`
	Amount    string  `json:"amount"`
	Mint      string  `json:"mint,omitempty"`
	Decimals  *uint8  `json:"decimals,omitempty"`
	Program   string  `json:"program,omitempty"`
	Balance   *string `json:"balance,omitempty"`
}

func (r transferRequest) toTransfer() (transfer.Request, error) {
	asset, err := transfer.ParseAssetRef(r.Mint, r.Decimals, r.Program)
	if err != nil {
		return transfer.Request{}, err
	}
	return transfer.Request{
		Recipient: r.Recipient,
		Amount:    r.Amount,
		Asset:     asset,
		Balance:   r.Balance,
	}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusForOutcome maps an outcome onto an HTTP status code.
func statusForOutcome(o transfer.Outcome) int {
	if o.Succeeded() {
		return http.StatusOK
	}
	switch {
	case o.Kind.IsValidation(),
		o.Kind == transfer.KindUnsupportedAsset,
		o.Kind == transfer.KindNoSourceTokenAccount:
		return http.StatusUnprocessableEntity
	case o.Kind == transfer.KindNoWalletConnected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// handleTransfer runs one transfer synchronously.
// POST /api/v1/transfers
func handleTransfer(
	transferer *transfer.Transferer,
	session transfer.Session,
	g guard.Guard,
	recorder *audit.Recorder,
	network string,
	m *metrics.Metrics,
	logger *slog.Logger,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body transferRequest
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := body.toTransfer()
		if err != nil {
			logger.Debug("unsupported asset", "mint", body.Mint, "error", err)
			outcome := transfer.Failure(err)
			writeJSON(w, outcome, statusForOutcome(outcome))
			return
		}

		var sender string
		if session != nil {
			sender = session.Address().String()
			release, err := g.Acquire(r.Context(), sender)
			if errors.Is(err, guard.ErrInFlight) {
				m.RecordInflightRejection()
				writeError(w, "a transfer from this wallet is already in flight", http.StatusConflict)
				return
			}
			if err != nil {
				logger.Error("failed to acquire in-flight guard", "sender", sender, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			defer release(context.WithoutCancel(r.Context()))
		}

		outcome := transferer.Transfer(r.Context(), session, req)

		// the outcome is what the caller needs; a recording failure is only logged
		entry := audit.NewEntry(sender, network, req, outcome)
		if err := recorder.Record(context.WithoutCancel(r.Context()), entry); err != nil {
			logger.Warn("failed to record transfer", "error", err)
		}

		writeJSON(w, outcome, statusForOutcome(outcome))
	})
}

// handleStartAsyncTransfer validates the request and starts a workflow.
// POST /api/v1/transfers/async
func handleStartAsyncTransfer(workflows WorkflowClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body transferRequest
		if !decodeBody(w, r, &body) {
			return
		}

		// fail fast on input errors instead of spending a workflow on them
		req, err := body.toTransfer()
		if err == nil {
			_, err = transfer.CheckAddress(req.Recipient)
		}
		if err == nil {
			_, err = transfer.CheckAmount(req.Amount, req.Balance)
		}
		if err != nil {
			outcome := transfer.Failure(err)
			writeJSON(w, outcome, statusForOutcome(outcome))
			return
		}

		workflowID, err := workflows.StartTransfer(r.Context(), temporal.TransferWorkflowInput{
			Recipient: body.Recipient,
			Amount:    body.Amount,
			Mint:      body.Mint,
			Decimals:  body.Decimals,
			Program:   body.Program,
			Balance:   body.Balance,
		})
		if err != nil {
			logger.Error("failed to start transfer workflow", "error", err)
			writeError(w, "failed to start transfer", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]string{
			"workflow_id": workflowID,
			"status":      temporal.StatusRunning,
		}, http.StatusAccepted)
	})
}

// handleGetAsyncTransfer reports the state of an async transfer.
// GET /api/v1/transfers/async/{workflow_id}
func handleGetAsyncTransfer(workflows WorkflowClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workflowID := r.PathValue("workflow_id")
		if workflowID == "" {
			writeError(w, "workflow_id is required", http.StatusBadRequest)
			return
		}

		status, err := workflows.GetTransferStatus(r.Context(), workflowID)
		if errors.Is(err, temporal.ErrWorkflowNotFound) {
			writeError(w, "transfer not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get transfer status", "workflow_id", workflowID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, status, http.StatusOK)
	})
}

// handleListTransfers lists recorded attempts, newest first.
// GET /api/v1/transfers?sender=ADDRESS&limit=N&offset=N
func handleListTransfers(store TransferLister, defaultLimit int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "transfer history is not configured", http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		sender := strings.TrimSpace(query.Get("sender"))
		if sender != "" && !transfer.ValidateAddress(sender) {
			writeError(w, "invalid sender address", http.StatusBadRequest)
			return
		}

		limit := int32(defaultLimit)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > maxListLimit {
				writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		transfers, err := store.ListTransfers(r.Context(), db.ListTransfersParams{
			Sender: sender,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.Error("failed to list transfers", "sender", sender, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]transferResponse, len(transfers))
		for i := range transfers {
			resp[i] = transferToResponse(transfers[i])
		}

		writeJSON(w, map[string]interface{}{
			"transfers": resp,
			"count":     len(resp),
			"limit":     limit,
			"offset":    offset,
		}, http.StatusOK)
	})
}

type validateRequest struct {
	Recipient string  `json:"recipient"`
	Amount    string  `json:"amount"`
	Balance   *string `json:"balance,omitempty"`
}

type validateResponse struct {
	RecipientValid bool   `json:"recipient_valid"`
	AmountValid    bool   `json:"amount_valid"`
	RecipientError string `json:"recipient_error,omitempty"`
	AmountError    string `json:"amount_error,omitempty"`
}

// handleValidate checks form fields without touching the network.
// POST /api/v1/validate
func handleValidate(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body validateRequest
		if !decodeBody(w, r, &body) {
			return
		}

		resp := validateResponse{RecipientValid: true, AmountValid: true}
		if _, err := transfer.CheckAddress(body.Recipient); err != nil {
			resp.RecipientValid = false
			resp.RecipientError = err.Error()
		}
		if _, err := transfer.CheckAmount(body.Amount, body.Balance); err != nil {
			resp.AmountValid = false
			resp.AmountError = err.Error()
		}

		logger.Debug("validated transfer fields", "recipient_valid", resp.RecipientValid, "amount_valid", resp.AmountValid)
		writeJSON(w, resp, http.StatusOK)
	})
}

type walletResponse struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	Network   string `json:"network"`
	Mode      string `json:"mode"`
}

// handleWallet describes the connected wallet.
// GET /api/v1/wallet
func handleWallet(session transfer.Session, network, mode string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := walletResponse{Network: network, Mode: mode}
		if session != nil {
			resp.Connected = true
			resp.Address = session.Address().String()
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

type balanceResponse struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// handleBalance reads the connected wallet's balance of one asset.
// GET /api/v1/wallet/balance?mint=&decimals=&program=
func handleBalance(transferer *transfer.Transferer, session transfer.Session, network string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var decimals *uint8
		if raw := q.Get("decimals"); raw != "" {
			d, err := strconv.ParseUint(raw, 10, 8)
			if err != nil {
				writeError(w, "invalid decimals parameter", http.StatusBadRequest)
				return
			}
			v := uint8(d)
			decimals = &v
		}

		asset, err := transfer.ParseAssetRef(q.Get("mint"), decimals, q.Get("program"))
		if err == nil {
			var balance string
			if balance, err = transferer.Balance(r.Context(), session, asset); err == nil {
				writeJSON(w, balanceResponse{
					Address: session.Address().String(),
					Network: network,
					Asset:   asset.String(),
					Balance: balance,
				}, http.StatusOK)
				return
			}
		}

		logger.Debug("failed to read balance", "mint", q.Get("mint"), "error", err)
		outcome := transfer.Failure(err)
		writeJSON(w, outcome, statusForOutcome(outcome))
	})
}

// transferResponse is the JSON response format for a recorded attempt.
type transferResponse struct {
	ID           int64     `json:"id"`
	Sender       string    `json:"sender"`
	Recipient    string    `json:"recipient"`
	Network      string    `json:"network"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount"`
	BaseUnits    *int64    `json:"base_units,omitempty"`
	Status       string    `json:"status"`
	Signature    *string   `json:"signature,omitempty"`
	ExplorerURL  *string   `json:"explorer_url,omitempty"`
	ErrorKind    *string   `json:"error_kind,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	WorkflowID   *string   `json:"workflow_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func transferToResponse(t *db.Transfer) transferResponse {
	return transferResponse{
		ID:           t.ID,
		Sender:       t.Sender,
		Recipient:    t.Recipient,
		Network:      t.Network,
		Asset:        t.Asset,
		Amount:       t.Amount,
		BaseUnits:    t.BaseUnits,
		Status:       t.Status,
		Signature:    t.Signature,
		ExplorerURL:  t.ExplorerURL,
		ErrorKind:    t.ErrorKind,
		ErrorMessage: t.ErrorMessage,
		WorkflowID:   t.WorkflowID,
		CreatedAt:    t.CreatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
