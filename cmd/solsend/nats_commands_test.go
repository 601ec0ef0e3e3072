package main

import (
	"bytes"
	"testing"
	"time"

	natspkg "github.com/brojonat/solsend/service/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileFilters(t *testing.T) {
	codes, err := compileFilters([]string{`.status == "success"`, `.amount | tonumber > 1`})
	require.NoError(t, err)
	assert.Len(t, codes, 2)

	_, err = compileFilters([]string{`.status ==`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")

	_, err = compileFilters([]string{`$undefined`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile jq filter")
}

func TestMatchesAll(t *testing.T) {
	event := []byte(`{
		"sender": "Sender111",
		"recipient": "Recipient111",
		"asset": "native",
		"amount": "2.5",
		"status": "failure",
		"error_kind": "NetworkError",
		"error_message": "rpc timeout"
	}`)

	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{name: "no filters", filters: nil, want: true},
		{name: "single match", filters: []string{`.status == "failure"`}, want: true},
		{name: "single mismatch", filters: []string{`.status == "success"`}, want: false},
		{name: "all must match", filters: []string{`.status == "failure"`, `.asset != "native"`}, want: false},
		{name: "numeric comparison", filters: []string{`.amount | tonumber >= 2`}, want: true},
		{name: "non-boolean value is truthy", filters: []string{`.error_kind`}, want: true},
		{name: "missing field is null", filters: []string{`.signature`}, want: false},
		{name: "no output", filters: []string{`empty`}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, err := compileFilters(tt.filters)
			require.NoError(t, err)

			got, err := matchesAll(codes, event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesAll_Errors(t *testing.T) {
	codes, err := compileFilters([]string{`.status`})
	require.NoError(t, err)

	_, err = matchesAll(codes, []byte(`not json`))
	assert.Error(t, err)

	codes, err = compileFilters([]string{`.status | tonumber`})
	require.NoError(t, err)
	_, err = matchesAll(codes, []byte(`{"status":"failure"}`))
	assert.Error(t, err)
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer
	printEvent(&out, 3, &natspkg.TransferEvent{
		Sender:      "Sender111",
		Recipient:   "Recipient111",
		Network:     "devnet",
		Asset:       "native",
		Amount:      "0.5",
		Status:      "success",
		Signature:   "Sig111",
		ExplorerURL: "https://solscan.io/tx/Sig111?cluster=devnet",
		Timestamp:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	s := out.String()
	assert.Contains(t, s, "Transfer #3 (success)")
	assert.Contains(t, s, "Signature:    Sig111")
	assert.Contains(t, s, "2025-01-02T03:04:05Z")
	assert.NotContains(t, s, "Error:")
	assert.NotContains(t, s, "Workflow:")
}
