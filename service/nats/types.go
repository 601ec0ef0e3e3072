package nats

import (
	"fmt"
	"time"
)

// TransferEvent is published to "transfers.{sender}" after every attempt,
// successful or not.
type TransferEvent struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Network   string `json:"network"`
	Asset     string `json:"asset"` // "native" or the token mint

	Amount    string  `json:"amount"`               // display units, as entered
	BaseUnits *uint64 `json:"base_units,omitempty"` // smallest units

	Status       string `json:"status"` // success, failure
	Signature    string `json:"signature,omitempty"`
	ExplorerURL  string `json:"explorer_url,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	WorkflowID string `json:"workflow_id,omitempty"`

	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// SubjectFor returns the subject events for sender are published on.
func SubjectFor(sender string) string {
	return fmt.Sprintf("transfers.%s", sender)
}
