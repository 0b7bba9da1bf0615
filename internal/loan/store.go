package loan

import (
	"context"
	"time"

	"SimBank/internal/ledger"
	"SimBank/internal/money"
)

// Tx extends a ledger unit with loan rows, so a disbursement or repayment and
// its loan bookkeeping commit together.
type Tx interface {
	ledger.Tx

	InsertLoan(ctx context.Context, l *Loan) error
	// LoanByNumber with forUpdate holds the loan row until the unit ends.
	LoanByNumber(ctx context.Context, number string, forUpdate bool) (*Loan, error)
	// ActiveOutstanding sums outstanding over the borrower's active loans.
	ActiveOutstanding(ctx context.Context, borrowerRefID int64) (money.Amount, error)
	// BankActiveOutstanding sums outstanding over every active loan.
	BankActiveOutstanding(ctx context.Context) (money.Amount, error)
	InsertPayment(ctx context.Context, loanID, transactionID int64, interest bool) error
	WriteOff(ctx context.Context, loanID int64, at time.Time) error
}

type Store interface {
	WithinLoanTx(ctx context.Context, fn func(Tx) error) error

	GetLoan(ctx context.Context, number string) (*Loan, error)
	ListLoans(ctx context.Context, borrower string) ([]Loan, error)
	// ActiveLoans returns every active loan, oldest first.
	ActiveLoans(ctx context.Context) ([]Loan, error)
	Payments(ctx context.Context, loanID int64) ([]Payment, error)
}
