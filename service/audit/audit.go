// Package audit records finished transfer attempts to Postgres and NATS.
// Both sinks are optional; recording never changes an attempt's outcome.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/brojonat/solsend/service/db"
	"github.com/brojonat/solsend/service/nats"
	"github.com/brojonat/solsend/service/transfer"
)

// Store is the subset of db.Store the recorder writes to.
type Store interface {
	CreateTransfer(ctx context.Context, params db.CreateTransferParams) (*db.Transfer, error)
}

// Entry is one finished attempt.
type Entry struct {
	Sender     string
	Recipient  string
	Network    string
	Asset      string
	Amount     string
	Outcome    transfer.Outcome
	WorkflowID string
	At         time.Time
}

// NewEntry builds an entry from a request and its outcome.
func NewEntry(sender, network string, req transfer.Request, outcome transfer.Outcome) Entry {
	asset := "native"
	if !req.Asset.IsNative() {
		asset = req.Asset.Mint.String()
	}
	return Entry{
		Sender:    sender,
		Recipient: req.Recipient,
		Network:   network,
		Asset:     asset,
		Amount:    req.Amount,
		Outcome:   outcome,
		At:        time.Now().UTC(),
	}
}

// Recorder fans an entry out to the configured sinks.
type Recorder struct {
	store     Store
	publisher nats.Publisher
	logger    *slog.Logger
}

// NewRecorder creates a recorder. store and publisher may each be nil.
func NewRecorder(store Store, publisher nats.Publisher, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, publisher: publisher, logger: logger}
}

// Record writes the entry to every configured sink. Sink failures are logged
// and joined into the returned error; one failing sink does not skip the other.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if r == nil {
		return nil
	}

	var errs []error
	if r.store != nil {
		if _, err := r.store.CreateTransfer(ctx, storeParams(e)); err != nil {
			r.logger.ErrorContext(ctx, "failed to record transfer", "sender", e.Sender, "error", err)
			errs = append(errs, fmt.Errorf("failed to record transfer: %w", err))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishTransfer(ctx, event(e)); err != nil {
			r.logger.ErrorContext(ctx, "failed to publish transfer event", "sender", e.Sender, "error", err)
			errs = append(errs, fmt.Errorf("failed to publish transfer event: %w", err))
		}
	}
	return errors.Join(errs...)
}

func storeParams(e Entry) db.CreateTransferParams {
	o := e.Outcome
	params := db.CreateTransferParams{
		Sender:       e.Sender,
		Recipient:    e.Recipient,
		Network:      e.Network,
		Asset:        e.Asset,
		Amount:       e.Amount,
		Status:       string(o.Status),
		Signature:    optional(o.Signature),
		ExplorerURL:  optional(o.ExplorerURL),
		ErrorKind:    optional(string(o.Kind)),
		ErrorMessage: optional(o.Message),
		WorkflowID:   optional(e.WorkflowID),
	}
	// BIGINT cannot hold the top half of uint64
	if o.BaseUnits > 0 && o.BaseUnits <= math.MaxInt64 {
		v := int64(o.BaseUnits)
		params.BaseUnits = &v
	}
	return params
}

func event(e Entry) *nats.TransferEvent {
	o := e.Outcome
	ev := &nats.TransferEvent{
		Sender:       e.Sender,
		Recipient:    e.Recipient,
		Network:      e.Network,
		Asset:        e.Asset,
		Amount:       e.Amount,
		Status:       string(o.Status),
		Signature:    o.Signature,
		ExplorerURL:  o.ExplorerURL,
		ErrorKind:    string(o.Kind),
		ErrorMessage: o.Message,
		WorkflowID:   e.WorkflowID,
		Timestamp:    e.At,
	}
	if o.BaseUnits > 0 {
		v := o.BaseUnits
		ev.BaseUnits = &v
	}
	return ev
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
