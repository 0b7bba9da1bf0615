package ledger

import (
	"context"
	"time"

	"SimBank/internal/money"
)

// Tx is one all-or-nothing unit against the backing store. Every balance read
// and every insert made through the same Tx commits or rolls back together.
type Tx interface {
	AccountByNumber(ctx context.Context, number string) (*Account, error)
	AccountByTeam(ctx context.Context, teamID string) (*Account, error)
	InsertAccount(ctx context.Context, a *Account) error
	CloseAccount(ctx context.Context, id int64, at time.Time) error
	UpdateNotificationURL(ctx context.Context, id int64, url string) error

	// ResolveRef returns the ref for (bank, number), creating it if needed.
	ResolveRef(ctx context.Context, bank, number string) (AccountRef, error)
	// LockRef serialises writers debiting the same ref until the unit ends.
	LockRef(ctx context.Context, refID int64) error
	// BalanceOf sums successful credits minus successful debits.
	BalanceOf(ctx context.Context, refID int64) (money.Amount, error)

	// InsertTransaction assigns t.ID. A taken number yields ErrDuplicateTransaction.
	InsertTransaction(ctx context.Context, t *Transaction) error
}

// Reader serves queries outside a unit.
type Reader interface {
	GetAccountByNumber(ctx context.Context, number string) (*Account, error)
	GetAccountByTeam(ctx context.Context, teamID string) (*Account, error)
	ListOpenAccounts(ctx context.Context) ([]Account, error)
	Balance(ctx context.Context, bank, number string) (money.Amount, error)
	GetTransaction(ctx context.Context, number string) (*Transaction, error)
	ListTransactions(ctx context.Context, bank, number string, q ListQuery) ([]Transaction, error)
	// RecentTransactionNumbers returns up to limit numbers, newest first.
	RecentTransactionNumbers(ctx context.Context, limit int) ([]string, error)
	// NumberTaken reports whether a transaction already carries number.
	NumberTaken(ctx context.Context, number string) (bool, error)
}

// Store is the ledger's view of persistence.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(Tx) error) error
}
