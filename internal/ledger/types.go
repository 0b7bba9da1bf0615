package ledger

import (
	"fmt"
	"time"

	"SimBank/internal/money"
)

// Status is the outcome recorded with every transaction row.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusInsufficientFunds Status = "insufficient_funds"
	StatusAccountNotFound   Status = "account_not_found"
)

// Statuses lists every status in lookup-table order.
var Statuses = []Status{StatusSuccess, StatusInsufficientFunds, StatusAccountNotFound}

func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

func (s Status) String() string { return string(s) }

// AccountNumberLen is the fixed width of this bank's account numbers.
const AccountNumberLen = 12

// MaxDescriptionLen bounds Transaction.Description, in runes.
const MaxDescriptionLen = 255

// AccountRef resolves (bank, account number) to a stable id. Refs exist for
// foreign accounts too; they are created on first use and never deleted.
type AccountRef struct {
	ID     int64  `json:"-"`
	Bank   string `json:"bank"`
	Number string `json:"account_number"`
}

func (r AccountRef) String() string { return r.Bank + "/" + r.Number }

// Account is a directory entry of this bank.
type Account struct {
	ID              int64      `json:"-"`
	TeamID          string     `json:"team_id"`
	Number          string     `json:"account_number"`
	NotificationURL string     `json:"notification_url,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

func (a *Account) Closed() bool { return a.ClosedAt != nil }

// Transaction is one immutable ledger row, failed attempts included.
type Transaction struct {
	ID          int64        `json:"-"`
	Number      string       `json:"transaction_number"`
	Sender      AccountRef   `json:"from"`
	Recipient   AccountRef   `json:"to"`
	Amount      money.Amount `json:"amount"`
	Description string       `json:"description"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (t *Transaction) Succeeded() bool { return t.Status == StatusSuccess }

// TransferRequest asks the engine to move Amount from sender to recipient.
// Number is optional; external banks supply their own.
type TransferRequest struct {
	SenderBank       string
	SenderAccount    string
	RecipientBank    string
	RecipientAccount string
	Amount           money.Amount
	Description      string
	Number           string
}

// ListQuery pages through an account's transactions, newest first.
type ListQuery struct {
	Limit    int
	BeforeID int64
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func (q ListQuery) Normalize() ListQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.BeforeID < 0 {
		q.BeforeID = 0
	}
	return q
}
