package temporal

import (
	"time"

	"github.com/brojonat/solsend/service/transfer"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	// transferTimeout bounds one signing and broadcast round trip.
	transferTimeout = 2 * time.Minute

	// WorkflowName is the registered name of TransferWorkflow.
	WorkflowName = "TransferWorkflow"
)

// TransferWorkflowInput is one transfer request, in the caller's units.
type TransferWorkflowInput struct {
	Recipient string  `json:"recipient"`
	Amount    string  `json:"amount"`
	Mint      string  `json:"mint,omitempty"`     // empty or "native" for SOL
	Decimals  *uint8  `json:"decimals,omitempty"` // nil reads the mint
	Program   string  `json:"program,omitempty"`  // optional token program hint
	Balance   *string `json:"balance,omitempty"`
}

// TransferWorkflowResult is what the workflow hands back to pollers.
type TransferWorkflowResult struct {
	WorkflowID  string           `json:"workflow_id"`
	Sender      string           `json:"sender,omitempty"`
	Network     string           `json:"network,omitempty"`
	Asset       string           `json:"asset"`
	Outcome     transfer.Outcome `json:"outcome"`
	Recorded    bool             `json:"recorded"`
	CompletedAt time.Time        `json:"completed_at"`
}

// TransferWorkflow runs one transfer attempt and records its outcome.
//
// The attempt itself is never retried: a retry would build a new transaction
// with a new blockhash, which may double-spend if the first broadcast landed.
// Recording is retried and keyed by the workflow ID, so a retry after a partial
// failure does not duplicate the row or the event. A recording failure does not
// fail the workflow.
func TransferWorkflow(ctx workflow.Context, input TransferWorkflowInput) (*TransferWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID
	logger.Info("TransferWorkflow started", "recipient", input.Recipient, "amount", input.Amount, "mint", input.Mint)

	transferCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: transferTimeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var executed *ExecuteTransferResult
	err := workflow.ExecuteActivity(transferCtx, a.ExecuteTransfer, input).Get(ctx, &executed)
	if err != nil {
		// the activity reports failures through the outcome, so this is a worker-level fault
		logger.Error("ExecuteTransfer activity failed", "error", err)
		executed = &ExecuteTransferResult{Outcome: transfer.Failure(err)}
	}

	result := &TransferWorkflowResult{
		WorkflowID: workflowID,
		Sender:     executed.Sender,
		Network:    executed.Network,
		Asset:      executed.Asset,
		Outcome:    executed.Outcome,
	}

	recordCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	record := RecordTransferInput{
		WorkflowID: workflowID,
		Sender:     executed.Sender,
		Network:    executed.Network,
		Asset:      executed.Asset,
		Recipient:  input.Recipient,
		Amount:     input.Amount,
		Outcome:    executed.Outcome,
		At:         workflow.Now(ctx),
	}
	if err := workflow.ExecuteActivity(recordCtx, a.RecordTransfer, record).Get(ctx, nil); err != nil {
		logger.Warn("failed to record transfer outcome", "error", err)
	} else {
		result.Recorded = true
	}

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("TransferWorkflow completed",
		"status", result.Outcome.Status,
		"signature", result.Outcome.Signature,
		"kind", result.Outcome.Kind,
	)
	return result, nil
}
