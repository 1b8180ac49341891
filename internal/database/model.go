package database

import (
	"time"
)

type EntryKind int

const (
	KindPaidInvoice EntryKind = iota
	KindFaucet
	KindInvoiceSettled
	KindBitcoindTx
	KindOther
)

// String converts EntryKind to its database value
func (k EntryKind) String() string {
	switch k {
	case KindPaidInvoice:
		return "paid_invoice"
	case KindFaucet:
		return "faucet"
	case KindInvoiceSettled:
		return "invoice_settled"
	case KindBitcoindTx:
		return "bitcoind_tx"
	default:
		return "other"
	}
}

// ParseEntryKind converts a database or ledger string to EntryKind
func ParseEntryKind(s string) EntryKind {
	switch s {
	case "paid_invoice":
		return KindPaidInvoice
	case "faucet":
		return KindFaucet
	case "invoice_settled":
		return KindInvoiceSettled
	case "bitcoind_tx":
		return KindBitcoindTx
	default:
		return KindOther
	}
}

// JournalEntry is one row of ledger_journal. AmountSats is signed: credits
// are positive, debits negative.
type JournalEntry struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Kind        EntryKind `json:"kind" db:"kind"`
	PaymentHash *string   `json:"payment_hash,omitempty" db:"payment_hash"`
	AmountSats  int64     `json:"amount_sats" db:"amount_sats"`
	FeeSats     int64     `json:"fee_sats" db:"fee_sats"`
	Memo        string    `json:"memo" db:"memo"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
