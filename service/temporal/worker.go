package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/solsend/service/audit"
	"github.com/brojonat/solsend/service/metrics"
	"github.com/brojonat/solsend/service/transfer"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig holds what the transfer activities need.
type WorkerConfig struct {
	TaskQueue  string
	Transferer *transfer.Transferer
	Session    transfer.Session // nil when no wallet is configured
	Recorder   *audit.Recorder  // may be nil
	Metrics    *metrics.Metrics // may be nil
	Logger     *slog.Logger
}

// Worker executes TransferWorkflow and its activities on one task queue.
type Worker struct {
	worker    worker.Worker
	taskQueue string
	logger    *slog.Logger
}

// NewWorker registers the transfer workflow and activities on c. The caller
// owns c and closes it after Run returns.
func NewWorker(c client.Client, cfg WorkerConfig) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "temporal_worker", "task_queue", cfg.TaskQueue)

	// one wallet signs every transfer, so submissions run one at a time
	w := worker.New(c, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	activities := NewActivities(cfg.Transferer, cfg.Session, cfg.Recorder, cfg.Metrics, logger)
	w.RegisterWorkflow(TransferWorkflow)
	w.RegisterActivity(activities.ExecuteTransfer)
	w.RegisterActivity(activities.RecordTransfer)
	logger.Info("registered transfer workflow", "workflow", WorkflowName)

	return &Worker{worker: w, taskQueue: cfg.TaskQueue, logger: logger}
}

// Run polls the task queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	w.logger.Info("worker polling")
	if err := w.worker.Run(stop); err != nil {
		return fmt.Errorf("worker on %s stopped: %w", w.taskQueue, err)
	}
	w.logger.Info("worker stopped")
	return nil
}
