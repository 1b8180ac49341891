package queue

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	streams "lnhub/pkg/queue"
)

const (
	// SettlementStream carries InvoiceSettledMessages.
	SettlementStream = "invoice_settled"
	SettlementGroup  = "settlement_workers"
)

// InvoiceSettledMessage announces that an invoice issued by the hub was paid,
// either by the node (an HTLC arrived) or internally by another hub user.
type InvoiceSettledMessage struct {
	PaymentHash string `json:"payment_hash"`
	Preimage    string `json:"preimage,omitempty"`
	AmtPaidSat  int64  `json:"amt_paid_sat"`
	SettledAt   int64  `json:"settled_at"`
	Internal    bool   `json:"internal"`
}

// ToJSON serializes the InvoiceSettledMessage to JSON bytes.
func (m *InvoiceSettledMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invoice settled message: %w", err)
	}
	return data, nil
}

// FromJSONInvoiceSettled deserializes JSON bytes into an InvoiceSettledMessage and validates it.
func FromJSONInvoiceSettled(data []byte) (*InvoiceSettledMessage, error) {
	msg := &InvoiceSettledMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invoice settled message: %w", err)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

// Validate checks if the InvoiceSettledMessage has all required fields with valid values.
func (m *InvoiceSettledMessage) Validate() error {
	if m.PaymentHash == "" {
		return errors.New("payment_hash is required")
	}
	if len(m.PaymentHash) != 64 {
		return fmt.Errorf("payment_hash must be 64 characters (got %d)", len(m.PaymentHash))
	}
	if _, err := hex.DecodeString(m.PaymentHash); err != nil {
		return fmt.Errorf("payment_hash must be valid hexadecimal: %w", err)
	}
	if m.Preimage != "" {
		if _, err := hex.DecodeString(m.Preimage); err != nil || len(m.Preimage) != 64 {
			return errors.New("preimage must be 32 bytes of hex")
		}
	}
	if m.AmtPaidSat <= 0 {
		return errors.New("amt_paid_sat must be greater than 0")
	}
	if m.SettledAt <= 0 {
		return errors.New("settled_at is required")
	}
	return nil
}

// Notifier publishes settlement events.
type Notifier struct {
	pub streams.Publisher
}

func NewNotifier(pub streams.Publisher) *Notifier {
	return &Notifier{pub: pub}
}

func (n *Notifier) InvoiceSettled(ctx context.Context, msg InvoiceSettledMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := msg.ToJSON()
	if err != nil {
		return err
	}
	if _, err := n.pub.Publish(ctx, SettlementStream, data); err != nil {
		return fmt.Errorf("failed to publish settlement of %s: %w", msg.PaymentHash, err)
	}
	return nil
}
