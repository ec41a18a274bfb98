package records

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// TransactionSheet is the table serving the transaction ledger.
const TransactionSheet = "transactions"

var TransactionHeader = []string{
	"id",
	"label",
	"amount_cents",
	"currency",
	"category",
	"occurred_at",
	"note",
}

// Transaction is a single ledger entry. Amounts are integral minor units
// so rows never carry float rounding noise.
type Transaction struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	OccurredAt  time.Time `json:"occurredAt"`
	Note        string    `json:"note"`
}

func NewTransaction(label string, amountCents int64, currency string, occurredAt time.Time) Transaction {
	return Transaction{
		ID:          uuid.NewString(),
		Label:       label,
		AmountCents: amountCents,
		Currency:    currency,
		OccurredAt:  occurredAt,
	}
}

func (x Transaction) RecordID() string { return x.ID }

// SortKey orders entries chronologically within a period.
func (x Transaction) SortKey() string {
	return formatTime(x.OccurredAt)
}

// Period reports the month and year the entry belongs to, in the
// device-local timezone. Partitioned caches key on it.
func (x Transaction) Period() (time.Month, int) {
	local := x.OccurredAt.Local()
	return local.Month(), local.Year()
}

func EncodeTransactionRow(x Transaction) []string {
	return []string{
		x.ID,
		x.Label,
		strconv.FormatInt(x.AmountCents, 10),
		x.Currency,
		x.Category,
		formatTime(x.OccurredAt),
		x.Note,
	}
}

func DecodeTransactionRow(row []string) Transaction {
	return Transaction{
		ID:          cell(row, 0),
		Label:       cell(row, 1),
		AmountCents: parseInt64(cell(row, 2)),
		Currency:    cell(row, 3),
		Category:    cell(row, 4),
		OccurredAt:  parseTime(cell(row, 5)),
		Note:        cell(row, 6),
	}
}
