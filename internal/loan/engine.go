package loan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SimBank/internal/apperr"
	"SimBank/internal/ledger"
	"SimBank/internal/money"
	"SimBank/internal/observability"
	"SimBank/internal/sweeplock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DaysPerYear converts an annual interest rate into a daily charge.
const DaysPerYear = 365

const dailyCycleKey = "daily-cycle"

// Engine owns loan rows. Money only moves through the ledger engine, inside
// the same store unit as the loan bookkeeping.
type Engine struct {
	store       Store
	ledger      *ledger.Engine
	bankAccount string
	guard       sweeplock.Guard

	mu       sync.RWMutex
	settings Settings
	sweep    SweepParams

	log     zerolog.Logger
	metrics *observability.Metrics
}

type Config struct {
	// BankAccount is this bank's own account; disbursements leave it and
	// repayments land in it.
	BankAccount string
	Settings    Settings
	Sweep       SweepParams
	Guard       sweeplock.Guard
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
}

func NewEngine(store Store, ledgerEngine *ledger.Engine, cfg Config) *Engine {
	guard := cfg.Guard
	if guard == nil {
		guard = sweeplock.NewLocal()
	}
	return &Engine{
		store:       store,
		ledger:      ledgerEngine,
		bankAccount: cfg.BankAccount,
		guard:       guard,
		settings:    cfg.Settings,
		sweep:       cfg.Sweep,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

func (e *Engine) BankAccount() string { return e.bankAccount }

func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

func (e *Engine) SetInterestRate(rate money.Rate) error {
	if rate < 0 {
		return ErrInvalidRate
	}
	e.mu.Lock()
	e.settings.InterestRate = rate
	e.mu.Unlock()
	e.log.Info().Str("rate", rate.String()).Msg("interest rate updated")
	return nil
}

func (e *Engine) SetLoanCap(cap money.Amount) error {
	if cap < 0 {
		return ErrInvalidCap
	}
	e.mu.Lock()
	e.settings.LoanCap = cap
	e.mu.Unlock()
	e.log.Info().Str("cap", cap.String()).Msg("per-borrower loan cap updated")
	return nil
}

func (e *Engine) SetBankLoanCap(cap money.Amount) error {
	if cap < 0 {
		return ErrInvalidCap
	}
	e.mu.Lock()
	e.settings.BankLoanCap = cap
	e.mu.Unlock()
	e.log.Info().Str("cap", cap.String()).Msg("bank loan cap updated")
	return nil
}

// Originate disburses amount from the bank to borrower and opens a loan at the
// current interest rate. A disbursement the bank cannot fund leaves its failed
// ledger row behind and opens no loan.
func (e *Engine) Originate(ctx context.Context, borrower string, amount money.Amount) (*Loan, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if !ledger.ValidAccountNumber(borrower) {
		return nil, ledger.ErrInvalidAccountNumber
	}
	if borrower == e.bankAccount {
		return nil, ledger.ErrSameAccount
	}
	settings := e.Settings()
	bankID := e.ledger.BankID()

	var (
		loan *Loan
		disb *ledger.Transaction
	)
	err := e.store.WithinLoanTx(ctx, func(tx Tx) error {
		acct, err := tx.AccountByNumber(ctx, borrower)
		if err != nil {
			return err
		}
		if acct.Closed() {
			return ledger.ErrAccountClosed
		}

		// Every origination takes the bank ref first, which also serialises
		// the aggregate cap check.
		bankRef, err := tx.ResolveRef(ctx, bankID, e.bankAccount)
		if err != nil {
			return fmt.Errorf("resolve bank ref: %w", err)
		}
		if err := tx.LockRef(ctx, bankRef.ID); err != nil {
			return fmt.Errorf("lock bank ref: %w", err)
		}
		borrowerRef, err := tx.ResolveRef(ctx, bankID, borrower)
		if err != nil {
			return fmt.Errorf("resolve borrower ref: %w", err)
		}

		owed, err := tx.ActiveOutstanding(ctx, borrowerRef.ID)
		if err != nil {
			return fmt.Errorf("borrower outstanding: %w", err)
		}
		if owed+amount > settings.LoanCap {
			return ErrLoanCapExceeded
		}
		total, err := tx.BankActiveOutstanding(ctx)
		if err != nil {
			return fmt.Errorf("bank outstanding: %w", err)
		}
		if total+amount > settings.BankLoanCap {
			return ErrBankLoanCapExceeded
		}

		number := uuid.NewString()
		disb, err = e.ledger.Record(ctx, tx, ledger.TransferRequest{
			SenderBank:       bankID,
			SenderAccount:    e.bankAccount,
			RecipientBank:    bankID,
			RecipientAccount: borrower,
			Amount:           amount,
			Description:      "loan disbursement " + number,
		})
		if err != nil {
			return err
		}
		if !disb.Succeeded() {
			return nil
		}

		loan = &Loan{
			Number:         number,
			Borrower:       borrower,
			BorrowerRefID:  borrowerRef.ID,
			DisbursementID: disb.ID,
			Disbursement:   disb.Number,
			Principal:      amount,
			InterestRate:   settings.InterestRate,
			StartedAt:      disb.CreatedAt,
		}
		return tx.InsertLoan(ctx, loan)
	})
	if err != nil {
		e.countRejected(err)
		return nil, err
	}
	e.ledger.Committed(ctx, disb)

	if loan == nil {
		e.countRejected(ErrInsufficientFunds)
		return nil, statusError(disb.Status)
	}

	if e.metrics != nil {
		e.metrics.LoansOriginated.Inc()
	}
	e.log.Info().
		Str("loan", loan.Number).
		Str("borrower", borrower).
		Str("amount", amount.String()).
		Str("rate", loan.InterestRate.String()).
		Msg("loan originated")
	return loan, nil
}

// Repayment is the outcome of a successful Repay.
type Repayment struct {
	Loan        Loan               `json:"loan"`
	Paid        money.Amount       `json:"paid"`
	Transaction ledger.Transaction `json:"transaction"`
}

// Repay moves min(amount, outstanding) from payer to the bank. Any account may
// pay. When the payer cannot cover it the failed ledger row is kept, no
// payment is linked, and ErrInsufficientFunds is returned.
func (e *Engine) Repay(ctx context.Context, loanNumber, payer string, amount money.Amount) (*Repayment, error) {
	return e.repay(ctx, loanNumber, payer, amount, "manual")
}

func (e *Engine) repay(ctx context.Context, loanNumber, payer string, amount money.Amount, source string) (*Repayment, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if !ledger.ValidAccountNumber(payer) {
		return nil, ledger.ErrInvalidAccountNumber
	}
	if loanNumber == "" {
		return nil, ErrLoanNotFound
	}
	bankID := e.ledger.BankID()

	var (
		loan *Loan
		paid money.Amount
		t    *ledger.Transaction
	)
	err := e.store.WithinLoanTx(ctx, func(tx Tx) error {
		l, err := tx.LoanByNumber(ctx, loanNumber, true)
		if err != nil {
			return err
		}
		switch l.State() {
		case StateWrittenOff:
			return ErrLoanWrittenOff
		case StatePaidOff:
			return ErrLoanPaidOff
		}

		paid = money.Min(amount, l.Outstanding())
		t, err = e.ledger.Record(ctx, tx, ledger.TransferRequest{
			SenderBank:       bankID,
			SenderAccount:    payer,
			RecipientBank:    bankID,
			RecipientAccount: e.bankAccount,
			Amount:           paid,
			Description:      "loan repayment " + l.Number,
		})
		if err != nil {
			return err
		}
		if !t.Succeeded() {
			return nil
		}
		if err := tx.InsertPayment(ctx, l.ID, t.ID, false); err != nil {
			return fmt.Errorf("link repayment: %w", err)
		}
		l.Repaid += paid
		loan = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.ledger.Committed(ctx, t)

	if !t.Succeeded() {
		return nil, statusError(t.Status)
	}

	if e.metrics != nil {
		e.metrics.LoanRepayments.WithLabelValues(source).Inc()
	}
	e.log.Info().
		Str("loan", loan.Number).
		Str("payer", payer).
		Str("paid", paid.String()).
		Str("outstanding", loan.Outstanding().String()).
		Str("source", source).
		Msg("loan repayment recorded")
	return &Repayment{Loan: *loan, Paid: paid, Transaction: *t}, nil
}

// Outstanding returns principal minus principal repayments.
func (e *Engine) Outstanding(ctx context.Context, loanNumber string) (money.Amount, error) {
	l, err := e.store.GetLoan(ctx, loanNumber)
	if err != nil {
		return 0, err
	}
	return l.Outstanding(), nil
}

// DailyInterest is the charge for one simulated day, rounded down.
func DailyInterest(outstanding money.Amount, annual money.Rate) money.Amount {
	return money.Amount(money.ApplyRatio(int64(outstanding), int64(annual), DaysPerYear, money.RoundDown))
}

// ChargeInterest collects one day of interest on every active loan. A loan
// whose borrower cannot pay is written off and left frozen.
func (e *Engine) ChargeInterest(ctx context.Context) (*InterestReport, error) {
	loans, err := e.store.ActiveLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}

	report := &InterestReport{}
	var errs []error
	for _, l := range loans {
		collected, writtenOff, err := e.chargeOne(ctx, l.Number)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("charge interest on %s: %w", l.Number, err))
		case writtenOff:
			report.WrittenOff = append(report.WrittenOff, l.Number)
		case collected == 0:
			report.Zero++
		default:
			report.Charged++
			report.Collected += collected
		}
	}
	return report, errors.Join(errs...)
}

func (e *Engine) chargeOne(ctx context.Context, loanNumber string) (money.Amount, bool, error) {
	bankID := e.ledger.BankID()

	var (
		interest   money.Amount
		writtenOff bool
		t          *ledger.Transaction
	)
	err := e.store.WithinLoanTx(ctx, func(tx Tx) error {
		l, err := tx.LoanByNumber(ctx, loanNumber, true)
		if err != nil {
			return err
		}
		if !l.Active() {
			return nil
		}
		interest = DailyInterest(l.Outstanding(), l.InterestRate)
		if interest == 0 {
			return nil
		}

		t, err = e.ledger.Record(ctx, tx, ledger.TransferRequest{
			SenderBank:       bankID,
			SenderAccount:    l.Borrower,
			RecipientBank:    bankID,
			RecipientAccount: e.bankAccount,
			Amount:           interest,
			Description:      "loan interest " + l.Number,
		})
		if err != nil {
			return err
		}
		if t.Succeeded() {
			return tx.InsertPayment(ctx, l.ID, t.ID, true)
		}
		writtenOff = true
		return tx.WriteOff(ctx, l.ID, t.CreatedAt)
	})
	if err != nil {
		return 0, false, err
	}
	e.ledger.Committed(ctx, t)

	if writtenOff {
		if e.metrics != nil {
			e.metrics.LoanWriteOffs.Inc()
		}
		e.log.Warn().
			Str("loan", loanNumber).
			Str("interest", interest.String()).
			Str("status", t.Status.String()).
			Msg("interest uncollectable, loan written off")
		return 0, true, nil
	}
	if interest > 0 && e.metrics != nil {
		e.metrics.InterestCollected.Add(float64(interest))
	}
	return interest, false, nil
}

// Instalment is what one sweep asks of a loan: outstanding × rate rounded
// down, but at least one minor unit while anything is outstanding.
func Instalment(outstanding money.Amount, rate money.Rate) money.Amount {
	if outstanding <= 0 || rate <= 0 {
		return 0
	}
	due := outstanding.MulRate(rate, money.RoundDown)
	if due == 0 {
		due = money.OneCent
	}
	return money.Min(due, outstanding)
}

// SweepInstalments attempts one instalment per active loan of every account
// whose balance is at least outstanding × ThresholdRate. Accounts below the
// threshold are skipped without error.
func (e *Engine) SweepInstalments(ctx context.Context, p SweepParams) (*SweepReport, error) {
	loans, err := e.store.ActiveLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}

	excluded := make(map[string]bool, len(p.Excluded))
	for _, a := range p.Excluded {
		excluded[a] = true
	}

	var order []string
	byAccount := make(map[string][]Loan)
	for _, l := range loans {
		if _, seen := byAccount[l.Borrower]; !seen {
			order = append(order, l.Borrower)
		}
		byAccount[l.Borrower] = append(byAccount[l.Borrower], l)
	}

	report := &SweepReport{}
	var errs []error
	for _, account := range order {
		accountLoans := byAccount[account]
		var outstanding money.Amount
		for i := range accountLoans {
			outstanding += accountLoans[i].Outstanding()
		}

		if excluded[account] {
			report.add(e, SweepAttempt{Account: account, Outstanding: outstanding, Outcome: SweepExcluded})
			continue
		}

		balance, err := e.ledger.Store().Balance(ctx, e.ledger.BankID(), account)
		if err != nil {
			errs = append(errs, fmt.Errorf("balance of %s: %w", account, err))
			continue
		}
		if balance < outstanding.MulRate(p.ThresholdRate, money.RoundDown) {
			report.add(e, SweepAttempt{Account: account, Balance: balance, Outstanding: outstanding, Outcome: SweepSkipped})
			continue
		}

		for _, l := range accountLoans {
			due := Instalment(l.Outstanding(), p.InstalmentRate)
			if due == 0 {
				continue
			}
			attempt := SweepAttempt{
				Account:     account,
				LoanNumber:  l.Number,
				Balance:     balance,
				Outstanding: l.Outstanding(),
				Requested:   due,
			}
			res, err := e.repay(ctx, l.Number, account, due, "instalment")
			switch {
			case err == nil:
				attempt.Paid = res.Paid
				attempt.Outcome = SweepPaid
			case apperr.IsDomain(err):
				attempt.Outcome = SweepFailed
				attempt.Code = string(apperr.CodeOf(err))
			default:
				attempt.Outcome = SweepFailed
				attempt.Code = string(apperr.CodeInternal)
				errs = append(errs, fmt.Errorf("instalment on %s: %w", l.Number, err))
			}
			report.add(e, attempt)
		}
	}
	return report, errors.Join(errs...)
}

func (r *SweepReport) add(e *Engine, a SweepAttempt) {
	r.Attempts = append(r.Attempts, a)
	if e.metrics != nil {
		e.metrics.SweepAttempts.WithLabelValues(string(a.Outcome)).Inc()
	}
}

// SweepParams returns the parameters RunDailyCycle sweeps with.
func (e *Engine) SweepParams() SweepParams {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sweep
}

// RunDailyCycle charges interest and then sweeps instalments. A cycle that
// finds the previous one still running is skipped.
func (e *Engine) RunDailyCycle(ctx context.Context, day time.Time) error {
	release, ok, err := e.guard.TryAcquire(ctx, dailyCycleKey)
	if err != nil {
		return fmt.Errorf("acquire daily cycle guard: %w", err)
	}
	if !ok {
		if e.metrics != nil {
			e.metrics.DailyCycleSkipped.Inc()
		}
		e.log.Warn().Time("day", day).Msg("previous daily cycle still running, skipping")
		return nil
	}
	defer release()

	start := time.Now()
	interest, interestErr := e.ChargeInterest(ctx)
	sweep, sweepErr := e.SweepInstalments(ctx, e.SweepParams())

	if e.metrics != nil {
		e.metrics.DailyCycleDuration.Observe(time.Since(start).Seconds())
	}

	ev := e.log.Info().Time("day", day).Dur("took", time.Since(start))
	if interest != nil {
		ev = ev.Int("interest_charged", interest.Charged).
			Str("interest_collected", interest.Collected.String()).
			Int("written_off", len(interest.WrittenOff))
	}
	if sweep != nil {
		ev = ev.Int("instalments_paid", sweep.Count(SweepPaid)).
			Int("instalments_failed", sweep.Count(SweepFailed)).
			Int("accounts_skipped", sweep.Count(SweepSkipped))
	}
	ev.Msg("daily cycle complete")

	return errors.Join(interestErr, sweepErr)
}

// OnDayBoundary adapts RunDailyCycle to the clock callback.
func (e *Engine) OnDayBoundary(ctx context.Context, day time.Time) {
	if err := e.RunDailyCycle(ctx, day); err != nil {
		e.log.Error().Err(err).Time("day", day).Msg("daily cycle failed")
	}
}

func (e *Engine) ListLoans(ctx context.Context, borrower string) ([]Loan, error) {
	if !ledger.ValidAccountNumber(borrower) {
		return nil, ledger.ErrInvalidAccountNumber
	}
	return e.store.ListLoans(ctx, borrower)
}

// GetLoan returns the loan with its payments. A non-empty borrower must own it.
func (e *Engine) GetLoan(ctx context.Context, borrower, loanNumber string) (*Detail, error) {
	l, err := e.store.GetLoan(ctx, loanNumber)
	if err != nil {
		return nil, err
	}
	if borrower != "" && l.Borrower != borrower {
		return nil, ErrLoanNotFound
	}
	payments, err := e.store.Payments(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("payments of %s: %w", loanNumber, err)
	}
	return &Detail{Loan: *l, State: l.State(), Payments: payments}, nil
}

// Standing reports balance and debt. An account is frozen once closed or once
// any of its loans has been written off.
func (e *Engine) Standing(ctx context.Context, account string) (*Standing, error) {
	if !ledger.ValidAccountNumber(account) {
		return nil, ledger.ErrInvalidAccountNumber
	}
	acct, err := e.ledger.Store().GetAccountByNumber(ctx, account)
	if err != nil {
		return nil, err
	}
	balance, err := e.ledger.Store().Balance(ctx, e.ledger.BankID(), account)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", account, err)
	}
	loans, err := e.store.ListLoans(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("loans of %s: %w", account, err)
	}

	s := &Standing{Account: account, Balance: balance, Closed: acct.Closed()}
	for i := range loans {
		switch loans[i].State() {
		case StateActive:
			s.Outstanding += loans[i].Outstanding()
		case StateWrittenOff:
			s.Outstanding += loans[i].Outstanding()
			s.Frozen = true
		}
	}
	if s.Closed {
		s.Frozen = true
	}
	return s, nil
}

func statusError(s ledger.Status) error {
	switch s {
	case ledger.StatusInsufficientFunds:
		return ErrInsufficientFunds
	case ledger.StatusAccountNotFound:
		return ledger.ErrAccountNotFound
	default:
		return fmt.Errorf("unexpected transaction status %s", s)
	}
}

func (e *Engine) countRejected(err error) {
	if e.metrics != nil && apperr.IsDomain(err) {
		e.metrics.LoansRejected.WithLabelValues(string(apperr.CodeOf(err))).Inc()
	}
}
