package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ErrWorkflowNotFound is returned when a workflow id is unknown to Temporal.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Workflow status values reported by GetTransferStatus.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// TransferStatus is a snapshot of an async transfer.
type TransferStatus struct {
	WorkflowID string                  `json:"workflow_id"`
	Status     string                  `json:"status"`
	Result     *TransferWorkflowResult `json:"result,omitempty"`
}

// Client starts and inspects transfer workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// Dial connects to Temporal with slog-backed SDK logging.
func Dial(host, namespace string, logger *slog.Logger) (client.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal at %s: %w", host, err)
	}
	logger.Info("connected to temporal", "host", host, "namespace", namespace)
	return c, nil
}

// NewClient dials Temporal and returns a Client that starts workflows on taskQueue.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := Dial(host, namespace, logger)
	if err != nil {
		return nil, err
	}
	return &Client{client: c, taskQueue: taskQueue, logger: logger}, nil
}

// StartTransfer starts a TransferWorkflow and returns its workflow id.
func (c *Client) StartTransfer(ctx context.Context, input TransferWorkflowInput) (string, error) {
	id := workflowID()

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, TransferWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start transfer workflow", "workflow_id", id, "error", err)
		return "", fmt.Errorf("failed to start transfer workflow: %w", err)
	}

	c.logger.Info("transfer workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"recipient", input.Recipient,
	)
	return run.GetID(), nil
}

// GetTransferStatus reports whether the workflow is still running and, once it
// has completed, its result.
func (c *Client) GetTransferStatus(ctx context.Context, workflowID string) (*TransferStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	status := &TransferStatus{WorkflowID: workflowID}
	switch s := desc.GetWorkflowExecutionInfo().GetStatus(); s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		status.Status = StatusRunning
		return status, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		status.Status = StatusCompleted
	default:
		status.Status = strings.ToLower(s.String())
		return status, nil
	}

	var result TransferWorkflowResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get workflow result %q: %w", workflowID, err)
	}
	status.Result = &result
	return status, nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func workflowID() string {
	return "transfer-" + uuid.NewString()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
