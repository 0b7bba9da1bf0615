package loan

import (
	"time"

	"SimBank/internal/ledger"
	"SimBank/internal/money"
)

type State string

const (
	StateActive     State = "active"
	StatePaidOff    State = "paid_off"
	StateWrittenOff State = "written_off"
)

// Loan is derived state: Repaid and InterestPaid are sums over its payments.
type Loan struct {
	ID             int64        `json:"-"`
	Number         string       `json:"loan_number"`
	Borrower       string       `json:"account_number"`
	BorrowerRefID  int64        `json:"-"`
	DisbursementID int64        `json:"-"`
	Disbursement   string       `json:"disbursement_transaction"`
	Principal      money.Amount `json:"principal"`
	InterestRate   money.Rate   `json:"interest_rate"`
	StartedAt      time.Time    `json:"started_at"`
	WrittenOffAt   *time.Time   `json:"written_off_at,omitempty"`

	Repaid       money.Amount `json:"repaid"`
	InterestPaid money.Amount `json:"interest_paid"`
}

// Outstanding is principal minus principal repayments. Repayments are capped
// at outstanding, so it never goes below zero.
func (l *Loan) Outstanding() money.Amount {
	return l.Principal - l.Repaid
}

func (l *Loan) State() State {
	switch {
	case l.WrittenOffAt != nil:
		return StateWrittenOff
	case l.Outstanding() == 0:
		return StatePaidOff
	default:
		return StateActive
	}
}

func (l *Loan) Active() bool { return l.State() == StateActive }

// Payment links a ledger transaction to a loan.
type Payment struct {
	LoanID      int64              `json:"-"`
	IsInterest  bool               `json:"is_interest"`
	Transaction ledger.Transaction `json:"transaction"`
}

// Detail is a loan plus its payment history, oldest first.
type Detail struct {
	Loan     Loan      `json:"loan"`
	State    State     `json:"state"`
	Payments []Payment `json:"payments"`
}

// Settings are the process-wide origination parameters. Changing them never
// touches existing loans.
type Settings struct {
	InterestRate money.Rate   `json:"interest_rate"`
	LoanCap      money.Amount `json:"loan_cap"`
	BankLoanCap  money.Amount `json:"bank_loan_cap"`
}

// SweepParams drive one instalment sweep.
type SweepParams struct {
	InstalmentRate money.Rate
	ThresholdRate  money.Rate
	Excluded       []string
}

type SweepOutcome string

const (
	SweepPaid     SweepOutcome = "paid"
	SweepFailed   SweepOutcome = "failed"
	SweepSkipped  SweepOutcome = "skipped"
	SweepExcluded SweepOutcome = "excluded"
)

// SweepAttempt is one per-loan repayment attempt, or a per-account skip
// (LoanNumber empty).
type SweepAttempt struct {
	Account     string       `json:"account_number"`
	LoanNumber  string       `json:"loan_number,omitempty"`
	Balance     money.Amount `json:"balance"`
	Outstanding money.Amount `json:"outstanding"`
	Requested   money.Amount `json:"requested"`
	Paid        money.Amount `json:"paid"`
	Outcome     SweepOutcome `json:"outcome"`
	Code        string       `json:"code,omitempty"`
}

type SweepReport struct {
	Attempts []SweepAttempt `json:"attempts"`
}

func (r *SweepReport) Count(o SweepOutcome) int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == o {
			n++
		}
	}
	return n
}

// InterestReport summarises one daily interest run.
type InterestReport struct {
	Charged    int          `json:"charged"`
	Collected  money.Amount `json:"collected"`
	WrittenOff []string     `json:"written_off"`
	Zero       int          `json:"zero"`
}

// Standing is the solvency view of an account.
type Standing struct {
	Account     string       `json:"account_number"`
	Balance     money.Amount `json:"balance"`
	Outstanding money.Amount `json:"outstanding"`
	Closed      bool         `json:"closed"`
	Frozen      bool         `json:"frozen"`
}
