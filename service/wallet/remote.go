package wallet

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/solsend/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
)

// RemoteSession is an embedded wallet whose key lives with an external signing
// service. The service receives the unsigned transaction, signs it and
// broadcasts it.
type RemoteSession struct {
	baseURL    string
	token      string
	address    solanago.PublicKey
	conn       transfer.Connection
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemoteSession creates a session backed by a signing service at baseURL.
func NewRemoteSession(baseURL, token string, address solanago.PublicKey, conn transfer.Connection, httpClient *http.Client, logger *slog.Logger) *RemoteSession {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteSession{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		address:    address,
		conn:       conn,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (s *RemoteSession) Address() solanago.PublicKey {
	return s.address
}

func (s *RemoteSession) Connection(ctx context.Context) (transfer.Connection, error) {
	return s.conn, nil
}

func (s *RemoteSession) Signer(ctx context.Context) (transfer.Signer, error) {
	if s.baseURL == "" {
		return nil, transfer.ErrNoWallet
	}
	return s, nil
}

type signRequest struct {
	Transaction string `json:"transaction"`
	Encoding    string `json:"encoding"`
	Address     string `json:"address"`
}

// SignAndSend posts the transaction to {baseURL}/sign-and-send.
// The response body is either a bare signature string or {"signature": "..."}.
func (s *RemoteSession) SignAndSend(ctx context.Context, tx *solanago.Transaction) (transfer.SendResult, error) {
	// The wire format carries one signature slot per required signer.
	required := int(tx.Message.Header.NumRequiredSignatures)
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solanago.Signature{})
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return transfer.SendResult{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	body, err := json.Marshal(signRequest{
		Transaction: base64.StdEncoding.EncodeToString(raw),
		Encoding:    "base64",
		Address:     s.address.String(),
	})
	if err != nil {
		return transfer.SendResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/sign-and-send", bytes.NewReader(body))
	if err != nil {
		return transfer.SendResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return transfer.SendResult{}, fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transfer.SendResult{}, fmt.Errorf("failed to read signer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return transfer.SendResult{}, signerError(resp.StatusCode, respBody)
	}

	var result transfer.SendResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return transfer.SendResult{}, fmt.Errorf("failed to decode signer response: %w", err)
	}

	s.logger.DebugContext(ctx, "transaction signed remotely",
		"signer", s.address.String(),
		"signature", result.Signature.String(),
	)
	return result, nil
}

// signerError maps a non-200 signer response. Refusals (401, 403, 409, or a
// message mentioning rejection) are reported as ErrSigningRejected.
func signerError(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	rejected := status == http.StatusUnauthorized ||
		status == http.StatusForbidden ||
		status == http.StatusConflict ||
		strings.Contains(strings.ToLower(msg), "reject")
	if rejected {
		return fmt.Errorf("%w: %s", transfer.ErrSigningRejected, msg)
	}
	return fmt.Errorf("signer error (status %d): %s", status, msg)
}
