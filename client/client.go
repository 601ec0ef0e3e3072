// Package client is the HTTP client for the solsend transfer service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrInFlight is returned when the server is already running a transfer for the wallet.
	ErrInFlight = errors.New("a transfer from this wallet is already in flight")

	// ErrNotFound is returned when an async transfer id is unknown.
	ErrNotFound = errors.New("transfer not found")
)

// TransferRequest is one transfer, in display units.
type TransferRequest struct {
	Recipient string  `json:"recipient"`
	Amount    string  `json:"amount"`
	Mint      string  `json:"mint,omitempty"`
	Decimals  *uint8  `json:"decimals,omitempty"`
	Program   string  `json:"program,omitempty"`
	Balance   *string `json:"balance,omitempty"`
}

// Outcome is the result of a transfer attempt.
type Outcome struct {
	Status      string `json:"status"` // success, failure
	Signature   string `json:"signature,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Message     string `json:"message,omitempty"`
	BaseUnits   uint64 `json:"base_units,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
}

// Succeeded reports whether the attempt landed a signature.
func (o *Outcome) Succeeded() bool {
	return o.Status == "success"
}

// OutcomeError is returned when the server rejects an async request before starting it.
type OutcomeError struct {
	Outcome Outcome
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Outcome.Kind, e.Outcome.Message)
}

// AsyncResult is the final state of an async transfer.
type AsyncResult struct {
	WorkflowID  string    `json:"workflow_id"`
	Sender      string    `json:"sender,omitempty"`
	Network     string    `json:"network,omitempty"`
	Asset       string    `json:"asset"`
	Outcome     Outcome   `json:"outcome"`
	Recorded    bool      `json:"recorded"`
	CompletedAt time.Time `json:"completed_at"`
}

// AsyncStatus is a snapshot of an async transfer. Result is set once Status is "completed".
type AsyncStatus struct {
	WorkflowID string       `json:"workflow_id"`
	Status     string       `json:"status"`
	Result     *AsyncResult `json:"result,omitempty"`
}

// Done reports whether the workflow has stopped running.
func (s *AsyncStatus) Done() bool {
	return s.Status != "running"
}

// Transfer is a recorded attempt from the audit log.
type Transfer struct {
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

// ListParams filters the audit log. Zero values use server defaults.
type ListParams struct {
	Sender string
	Limit  int
	Offset int
}

// Validation reports whether form fields would pass local checks.
type Validation struct {
	RecipientValid bool   `json:"recipient_valid"`
	AmountValid    bool   `json:"amount_valid"`
	RecipientError string `json:"recipient_error,omitempty"`
	AmountError    string `json:"amount_error,omitempty"`
}

// WalletInfo describes the server's connected wallet.
type WalletInfo struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	Network   string `json:"network"`
	Mode      string `json:"mode"`
}

// BalanceInfo is the server wallet's holding of one asset, in display units.
type BalanceInfo struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// Client is the HTTP client for the transfer service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new transfer service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Send runs a transfer synchronously. A failed attempt is reported in the
// Outcome; the error is reserved for transport problems and ErrInFlight.
func (c *Client) Send(ctx context.Context, req TransferRequest) (*Outcome, error) {
	resp, err := c.do(ctx, "POST", "/api/v1/transfers", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusConflict:
		return nil, ErrInFlight
	case http.StatusOK, http.StatusUnprocessableEntity, http.StatusBadGateway, http.StatusServiceUnavailable:
	default:
		return nil, c.parseErrorResponse(resp)
	}

	var outcome Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if outcome.Status == "" {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	c.logger.Debug("transfer finished", "status", outcome.Status, "signature", outcome.Signature, "kind", outcome.Kind)
	return &outcome, nil
}

// StartAsync starts a transfer workflow and returns its id. Input errors come
// back as *OutcomeError.
func (c *Client) StartAsync(ctx context.Context, req TransferRequest) (string, error) {
	resp, err := c.do(ctx, "POST", "/api/v1/transfers/async", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		var started struct {
			WorkflowID string `json:"workflow_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		c.logger.Debug("async transfer started", "workflow_id", started.WorkflowID)
		return started.WorkflowID, nil
	case http.StatusUnprocessableEntity:
		var outcome Outcome
		if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		return "", &OutcomeError{Outcome: outcome}
	default:
		return "", c.parseErrorResponse(resp)
	}
}

// Status fetches the current state of an async transfer.
func (c *Client) Status(ctx context.Context, workflowID string) (*AsyncStatus, error) {
	resp, err := c.do(ctx, "GET", "/api/v1/transfers/async/"+url.PathEscape(workflowID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var status AsyncStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// Await polls an async transfer until it stops running or ctx is done.
func (c *Client) Await(ctx context.Context, workflowID string, interval time.Duration) (*AsyncStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if status.Done() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// List reads the audit log, newest first.
func (c *Client) List(ctx context.Context, params ListParams) ([]*Transfer, error) {
	q := url.Values{}
	if params.Sender != "" {
		q.Set("sender", params.Sender)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	path := "/api/v1/transfers"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var listResp struct {
		Transfers []*Transfer `json:"transfers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return listResp.Transfers, nil
}

// Validate checks form fields on the server without touching the network.
func (c *Client) Validate(ctx context.Context, recipient, amount string, balance *string) (*Validation, error) {
	resp, err := c.do(ctx, "POST", "/api/v1/validate", map[string]interface{}{
		"recipient": recipient,
		"amount":    amount,
		"balance":   balance,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &v, nil
}

// Wallet describes the server's connected wallet.
func (c *Client) Wallet(ctx context.Context) (*WalletInfo, error) {
	resp, err := c.do(ctx, "GET", "/api/v1/wallet", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var info WalletInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &info, nil
}

// Balance reads the server wallet's balance of mint. An empty mint reads SOL.
// Failures the server classifies come back as *OutcomeError.
func (c *Client) Balance(ctx context.Context, mint string) (*BalanceInfo, error) {
	path := "/api/v1/wallet/balance"
	if mint != "" {
		path += "?" + url.Values{"mint": {mint}}.Encode()
	}
	resp, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity, http.StatusBadGateway, http.StatusServiceUnavailable:
		var outcome Outcome
		if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil || outcome.Status == "" {
			return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return nil, &OutcomeError{Outcome: outcome}
	default:
		return nil, c.parseErrorResponse(resp)
	}

	var info BalanceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &info, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
