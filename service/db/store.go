package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/solsend/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("transfer not found")

const schema = `
CREATE TABLE IF NOT EXISTS transfers (
    id              BIGSERIAL PRIMARY KEY,
    sender          TEXT NOT NULL,
    recipient       TEXT NOT NULL,
    network         TEXT NOT NULL,
    asset           TEXT NOT NULL,
    amount          TEXT NOT NULL,
    base_units      BIGINT,
    status          TEXT NOT NULL,
    signature       TEXT,
    explorer_url    TEXT,
    error_kind      TEXT,
    error_message   TEXT,
    workflow_id     TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transfers_sender_created_at_idx ON transfers (sender, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS transfers_signature_idx ON transfers (signature) WHERE signature IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS transfers_workflow_id_idx ON transfers (workflow_id) WHERE workflow_id IS NOT NULL;
`

const transferColumns = `id, sender, recipient, network, asset, amount, base_units, status,
    signature, explorer_url, error_kind, error_message, workflow_id, created_at`

// Store is the audit log of transfer attempts. The transfer pipeline itself
// keeps no history; callers record each finished attempt here.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// metrics may be nil.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// EnsureSchema creates the transfers table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Transfer is one recorded attempt.
type Transfer struct {
	ID           int64
	Sender       string
	Recipient    string
	Network      string
	Asset        string // "native" or the token mint
	Amount       string // display units, as entered
	BaseUnits    *int64 // smallest units, when the attempt got far enough to compute them
	Status       string
	Signature    *string
	ExplorerURL  *string
	ErrorKind    *string
	ErrorMessage *string
	WorkflowID   *string
	CreatedAt    time.Time
}

// CreateTransferParams contains the fields recorded for an attempt.
type CreateTransferParams struct {
	Sender       string
	Recipient    string
	Network      string
	Asset        string
	Amount       string
	BaseUnits    *int64
	Status       string
	Signature    *string
	ExplorerURL  *string
	ErrorKind    *string
	ErrorMessage *string
	WorkflowID   *string
}

// ListTransfersParams contains filter and pagination parameters.
// An empty Sender lists every sender.
type ListTransfersParams struct {
	Sender string
	Limit  int32
	Offset int32
}

// CreateTransfer inserts an attempt. Inserting an attempt whose workflow ID or
// signature is already recorded returns the existing row instead.
func (s *Store) CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
INSERT INTO transfers (sender, recipient, network, asset, amount, base_units, status,
    signature, explorer_url, error_kind, error_message, workflow_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT DO NOTHING
RETURNING `+transferColumns,
		params.Sender,
		params.Recipient,
		params.Network,
		params.Asset,
		params.Amount,
		pgint8FromInt64Ptr(params.BaseUnits),
		params.Status,
		pgtextFromStringPtr(params.Signature),
		pgtextFromStringPtr(params.ExplorerURL),
		pgtextFromStringPtr(params.ErrorKind),
		pgtextFromStringPtr(params.ErrorMessage),
		pgtextFromStringPtr(params.WorkflowID),
	)
	t, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		t, err = s.existingTransfer(ctx, params)
	}
	s.metrics.RecordDBQuery("insert", "transfers", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transfer: %w", err)
	}
	return t, nil
}

// existingTransfer finds the row that made an insert conflict.
func (s *Store) existingTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+transferColumns+`
FROM transfers
WHERE ($1::text IS NOT NULL AND workflow_id = $1)
   OR ($2::text IS NOT NULL AND signature = $2)
ORDER BY id
LIMIT 1`,
		pgtextFromStringPtr(params.WorkflowID),
		pgtextFromStringPtr(params.Signature),
	)
	return scanTransfer(row)
}

// GetTransferBySignature retrieves a transfer by its transaction signature.
func (s *Store) GetTransferBySignature(ctx context.Context, signature string) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE signature = $1`, signature)
	t, err := scanTransfer(row)
	s.metrics.RecordDBQuery("select", "transfers", time.Since(start).Seconds(), err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransfers returns attempts newest first.
func (s *Store) ListTransfers(ctx context.Context, params ListTransfersParams) ([]*Transfer, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
SELECT `+transferColumns+`
FROM transfers
WHERE ($1 = '' OR sender = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`,
		params.Sender, params.Limit, params.Offset,
	)
	if err != nil {
		s.metrics.RecordDBQuery("list", "transfers", time.Since(start).Seconds(), err)
		return nil, err
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("list", "transfers", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var (
		t                                             Transfer
		baseUnits                                     pgtype.Int8
		signature, explorerURL, errKind, errMsg, wfID pgtype.Text
		createdAt                                     pgtype.Timestamptz
	)
	err := row.Scan(
		&t.ID, &t.Sender, &t.Recipient, &t.Network, &t.Asset, &t.Amount, &baseUnits, &t.Status,
		&signature, &explorerURL, &errKind, &errMsg, &wfID, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	t.BaseUnits = int64PtrFromPgint8(baseUnits)
	t.Signature = stringPtrFromPgtext(signature)
	t.ExplorerURL = stringPtrFromPgtext(explorerURL)
	t.ErrorKind = stringPtrFromPgtext(errKind)
	t.ErrorMessage = stringPtrFromPgtext(errMsg)
	t.WorkflowID = stringPtrFromPgtext(wfID)
	t.CreatedAt = createdAt.Time
	return &t, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromInt64Ptr(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func int64PtrFromPgint8(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
