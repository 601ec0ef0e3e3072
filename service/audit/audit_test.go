package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/solsend/service/db"
	"github.com/brojonat/solsend/service/nats"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	params []db.CreateTransferParams
	err    error
}

func (s *fakeStore) CreateTransfer(ctx context.Context, params db.CreateTransferParams) (*db.Transfer, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.params = append(s.params, params)
	return &db.Transfer{ID: int64(len(s.params))}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorder_Success(t *testing.T) {
	store := &fakeStore{}
	pub := nats.NewMockPublisher()
	r := NewRecorder(store, pub, discardLogger())

	entry := NewEntry("sender", "devnet", transfer.Request{
		Recipient: "recipient",
		Amount:    "2.5",
		Asset:     transfer.NativeAsset(),
	}, transfer.Outcome{
		Status:      transfer.StatusSuccess,
		Signature:   "sig",
		ExplorerURL: "https://solscan.io/tx/sig?cluster=devnet",
		BaseUnits:   2500000000,
	})
	entry.WorkflowID = "wf-1"

	require.NoError(t, r.Record(context.Background(), entry))

	require.Len(t, store.params, 1)
	p := store.params[0]
	assert.Equal(t, "native", p.Asset)
	assert.Equal(t, "success", p.Status)
	require.NotNil(t, p.BaseUnits)
	assert.Equal(t, int64(2500000000), *p.BaseUnits)
	require.NotNil(t, p.Signature)
	assert.Equal(t, "sig", *p.Signature)
	assert.Nil(t, p.ErrorKind)
	require.NotNil(t, p.WorkflowID)
	assert.Equal(t, "wf-1", *p.WorkflowID)

	events := pub.EventsForSender("sender")
	require.Len(t, events, 1)
	assert.Equal(t, "sig", events[0].Signature)
	require.NotNil(t, events[0].BaseUnits)
	assert.Equal(t, uint64(2500000000), *events[0].BaseUnits)
}

func TestRecorder_FailureAndHugeAmount(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, nil, discardLogger())

	entry := NewEntry("sender", "mainnet", transfer.Request{Recipient: "r", Amount: "1"}, transfer.Outcome{
		Status:    transfer.StatusFailure,
		Kind:      transfer.KindNetworkError,
		Message:   transfer.FallbackMessage,
		BaseUnits: 1 << 63,
	})
	require.NoError(t, r.Record(context.Background(), entry))

	p := store.params[0]
	assert.Nil(t, p.BaseUnits)
	assert.Nil(t, p.Signature)
	require.NotNil(t, p.ErrorKind)
	assert.Equal(t, "NetworkError", *p.ErrorKind)
}

func TestRecorder_SinkErrorsDoNotShortCircuit(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	pub := nats.NewMockPublisher()
	r := NewRecorder(store, pub, discardLogger())

	err := r.Record(context.Background(), Entry{Sender: "s", Outcome: transfer.Outcome{Status: transfer.StatusSuccess}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Len(t, pub.Events(), 1)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NoError(t, r.Record(context.Background(), Entry{}))
	assert.NoError(t, NewRecorder(nil, nil, discardLogger()).Record(context.Background(), Entry{}))
}
