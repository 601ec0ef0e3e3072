package temporal

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/solsend/service/audit"
	"github.com/brojonat/solsend/service/metrics"
	"github.com/brojonat/solsend/service/transfer"
)

// ExecuteTransferResult carries the outcome plus the context it was produced in.
type ExecuteTransferResult struct {
	Sender  string           `json:"sender,omitempty"`
	Network string           `json:"network,omitempty"`
	Asset   string           `json:"asset"`
	Outcome transfer.Outcome `json:"outcome"`
}

// RecordTransferInput contains parameters for the RecordTransfer activity.
type RecordTransferInput struct {
	WorkflowID string           `json:"workflow_id"`
	Sender     string           `json:"sender"`
	Network    string           `json:"network"`
	Asset      string           `json:"asset"`
	Recipient  string           `json:"recipient"`
	Amount     string           `json:"amount"`
	Outcome    transfer.Outcome `json:"outcome"`
	At         time.Time        `json:"at"`
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	transferer *transfer.Transferer
	session    transfer.Session
	recorder   *audit.Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// A nil session makes every transfer fail with NoWalletConnected; recorder and
// metrics may be nil.
func NewActivities(
	transferer *transfer.Transferer,
	session transfer.Session,
	recorder *audit.Recorder,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		transferer: transferer,
		session:    session,
		recorder:   recorder,
		metrics:    m,
		logger:     logger,
	}
}

// ExecuteTransfer runs one attempt through the pipeline. Pipeline failures are
// reported in the outcome, never as an activity error.
func (a *Activities) ExecuteTransfer(ctx context.Context, input TransferWorkflowInput) (*ExecuteTransferResult, error) {
	result := &ExecuteTransferResult{Asset: assetName(input.Mint)}

	asset, err := transfer.ParseAssetRef(input.Mint, input.Decimals, input.Program)
	if err != nil {
		a.logger.WarnContext(ctx, "unsupported asset", "mint", input.Mint, "error", err)
		result.Outcome = transfer.Failure(err)
		return result, nil
	}

	var session transfer.Session
	if a.session != nil {
		session = a.session
		result.Sender = a.session.Address().String()
		if conn, err := a.session.Connection(ctx); err == nil {
			result.Network = string(conn.Network())
		}
	}

	result.Outcome = a.transferer.Transfer(ctx, session, transfer.Request{
		Recipient: input.Recipient,
		Amount:    input.Amount,
		Asset:     asset,
		Balance:   input.Balance,
	})
	return result, nil
}

// RecordTransfer writes the outcome to the audit sinks.
func (a *Activities) RecordTransfer(ctx context.Context, input RecordTransferInput) error {
	a.metrics.RecordWorkflow(string(input.Outcome.Status))

	err := a.recorder.Record(ctx, audit.Entry{
		Sender:     input.Sender,
		Recipient:  input.Recipient,
		Network:    input.Network,
		Asset:      input.Asset,
		Amount:     input.Amount,
		Outcome:    input.Outcome,
		WorkflowID: input.WorkflowID,
		At:         input.At,
	})
	if err != nil {
		return err
	}

	a.logger.DebugContext(ctx, "recorded transfer outcome",
		"workflow_id", input.WorkflowID,
		"status", input.Outcome.Status,
	)
	return nil
}

func assetName(mint string) string {
	asset, err := transfer.ParseAssetRef(mint, nil, "")
	switch {
	case err != nil:
		return mint
	case asset.IsNative():
		return "native"
	default:
		return asset.Mint.String()
	}
}
