package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solsend/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes transfer outcome events.
type Publisher interface {
	// PublishTransfer publishes one event to "transfers.{sender}".
	PublishTransfer(ctx context.Context, event *TransferEvent) error

	// Close closes the connection to NATS.
	Close() error
}

const (
	// StreamName is the JetStream stream holding transfer events.
	StreamName = "TRANSFERS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "transfers.*"

	// StreamRetention is how long events are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// JetStreamPublisher publishes transfer events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("solsend-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized", "url", natsURL, "stream", StreamName)
	return publisher, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		p.logger.Debug("JetStream stream already exists", "stream", StreamName)
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)
	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Outcomes of Solana transfer attempts",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishTransfer publishes a single transfer event.
func (p *JetStreamPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	subject := SubjectFor(event.Sender)
	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer event: %w", err)
	}

	var opts []jetstream.PublishOpt
	if id := MsgIDFor(event); id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data, opts...)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to publish transfer event: %w", err)
	}

	p.logger.DebugContext(ctx, "published transfer event",
		"subject", subject,
		"status", event.Status,
		"signature", event.Signature,
	)
	return nil
}

// MsgIDFor returns the JetStream deduplication ID for an event. Events from
// the same workflow share an ID, so a retried publish is stored once within
// the stream's duplicate window. Events without a workflow return "".
func MsgIDFor(event *TransferEvent) string {
	if event == nil || event.WorkflowID == "" {
		return ""
	}
	return "transfer-event-" + event.WorkflowID
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
