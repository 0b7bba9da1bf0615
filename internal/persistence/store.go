package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"SimBank/internal/ledger"
	"SimBank/internal/loan"
	"SimBank/internal/money"

	"github.com/rs/zerolog"
)

// Store is the Postgres implementation of the ledger and loan store contracts.
// Units run at READ COMMITTED; writers serialise on row locks taken with
// SELECT ... FOR UPDATE, and transaction numbers rely on the unique constraint.
type Store struct {
	db       *sql.DB
	statuses *statusTable
	log      zerolog.Logger
}

func NewStore(ctx context.Context, db *sql.DB, log zerolog.Logger) (*Store, error) {
	statuses, err := loadStatuses(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, statuses: statuses, log: log}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reset wipes every ledger and loan row. The status lookup table is kept.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`TRUNCATE loan_payments, loans, transactions, account_refs, accounts RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	s.log.Warn().Msg("store reset")
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.within(ctx, func(t *pgTx) error { return fn(t) })
}

func (s *Store) WithinLoanTx(ctx context.Context, fn func(loan.Tx) error) error {
	return s.within(ctx, func(t *pgTx) error { return fn(t) })
}

func (s *Store) within(ctx context.Context, fn func(*pgTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&pgTx{tx: tx, statuses: s.statuses}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	return nil
}

// --- ledger.Reader ---

func (s *Store) GetAccountByNumber(ctx context.Context, number string) (*ledger.Account, error) {
	return accountByNumber(ctx, s.db, number, false)
}

func (s *Store) GetAccountByTeam(ctx context.Context, teamID string) (*ledger.Account, error) {
	return accountByTeam(ctx, s.db, teamID)
}

func (s *Store) ListOpenAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE closed_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) Balance(ctx context.Context, bank, number string) (money.Amount, error) {
	var refID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM account_refs WHERE bank = $1 AND account_number = $2`,
		bank, number,
	).Scan(&refID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup ref: %w", err)
	}
	return balanceOf(ctx, s.db, s.statuses, refID)
}

func (s *Store) GetTransaction(ctx context.Context, number string) (*ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, transactionSelect+` WHERE t.transaction_number = $1`, number)
	t, err := scanTransaction(row, s.statuses)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTransactionNotFound
	}
	return t, err
}

func (s *Store) ListTransactions(ctx context.Context, bank, number string, q ledger.ListQuery) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, transactionSelect+`
		WHERE ((s.bank = $1 AND s.account_number = $2) OR (r.bank = $1 AND r.account_number = $2))
		  AND ($3::bigint = 0 OR t.id < $3::bigint)
		ORDER BY t.id DESC
		LIMIT $4`,
		bank, number, q.BeforeID, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows, s.statuses)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// --- loan.Store readers ---

func (s *Store) GetLoan(ctx context.Context, number string) (*loan.Loan, error) {
	return loanByNumber(ctx, s.db, number)
}

func (s *Store) ListLoans(ctx context.Context, borrower string) ([]loan.Loan, error) {
	return queryLoans(ctx, s.db, loanSelect+`
		WHERE r.account_number = $1
		GROUP BY `+loanGroupBy+`
		ORDER BY l.id`, borrower)
}

func (s *Store) ActiveLoans(ctx context.Context) ([]loan.Loan, error) {
	return queryLoans(ctx, s.db, loanSelect+`
		WHERE l.written_off_at IS NULL
		GROUP BY `+loanGroupBy+`
		HAVING d.amount > `+repaidExpr+`
		ORDER BY l.started_at, l.id`)
}

func (s *Store) Payments(ctx context.Context, loanID int64) ([]loan.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.is_interest, `+transactionColumns+`
		FROM loan_payments p
		JOIN transactions t ON t.id = p.transaction_id
		JOIN account_refs s ON s.id = t.sender_ref_id
		JOIN account_refs r ON r.id = t.recipient_ref_id
		WHERE p.loan_id = $1
		ORDER BY t.id`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []loan.Payment
	for rows.Next() {
		var (
			p  loan.Payment
			tr txRow
		)
		dest := append([]interface{}{&p.IsInterest}, tr.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		t, err := tr.transaction(s.statuses)
		if err != nil {
			return nil, err
		}
		p.LoanID = loanID
		p.Transaction = *t
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- shared row helpers ---

const accountColumns = `id, team_id, account_number, notification_url, created_at, closed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var (
		a        ledger.Account
		closedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TeamID, &a.Number, &a.NotificationURL, &a.CreatedAt, &closedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		a.ClosedAt = &t
	}
	return &a, nil
}

func accountByNumber(ctx context.Context, q queryer, number string, forUpdate bool) (*ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanAccount(q.QueryRowContext(ctx, query, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", number, err)
	}
	return a, nil
}

// accountByTeam prefers the open account, else the most recently closed one.
func accountByTeam(ctx context.Context, q queryer, teamID string) (*ledger.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE team_id = $1
		ORDER BY (closed_at IS NULL) DESC, id DESC
		LIMIT 1`, teamID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account for team %s: %w", teamID, err)
	}
	return a, nil
}

func balanceOf(ctx context.Context, q queryer, statuses *statusTable, refID int64) (money.Amount, error) {
	var balance int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN recipient_ref_id = $1 THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE status_id = $2 AND (sender_ref_id = $1 OR recipient_ref_id = $1)`,
		refID, statuses.id(ledger.StatusSuccess),
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("balance of ref %d: %w", refID, err)
	}
	return money.Amount(balance), nil
}

const transactionColumns = `t.id, t.transaction_number,
	s.id, s.bank, s.account_number,
	r.id, r.bank, r.account_number,
	t.amount, t.description, t.status_id, t.created_at`

const transactionSelect = `
	SELECT ` + transactionColumns + `
	FROM transactions t
	JOIN account_refs s ON s.id = t.sender_ref_id
	JOIN account_refs r ON r.id = t.recipient_ref_id`

type txRow struct {
	t        ledger.Transaction
	amount   int64
	statusID int16
}

func (r *txRow) dest() []interface{} {
	return []interface{}{
		&r.t.ID, &r.t.Number,
		&r.t.Sender.ID, &r.t.Sender.Bank, &r.t.Sender.Number,
		&r.t.Recipient.ID, &r.t.Recipient.Bank, &r.t.Recipient.Number,
		&r.amount, &r.t.Description, &r.statusID, &r.t.CreatedAt,
	}
}

func (r *txRow) transaction(statuses *statusTable) (*ledger.Transaction, error) {
	st, err := statuses.status(r.statusID)
	if err != nil {
		return nil, err
	}
	t := r.t
	t.Amount = money.Amount(r.amount)
	t.Status = st
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func scanTransaction(row rowScanner, statuses *statusTable) (*ledger.Transaction, error) {
	var r txRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.transaction(statuses)
}

// repaidExpr sums principal repayments for the grouped loan.
const repaidExpr = `COALESCE(SUM(pt.amount) FILTER (WHERE NOT p.is_interest), 0)`

const loanSelect = `
	SELECT l.id, l.loan_number, r.account_number, l.borrower_ref_id,
	       l.disbursement_id, d.transaction_number, d.amount,
	       l.interest_rate, l.started_at, l.written_off_at,
	       ` + repaidExpr + `,
	       COALESCE(SUM(pt.amount) FILTER (WHERE p.is_interest), 0)
	FROM loans l
	JOIN account_refs r ON r.id = l.borrower_ref_id
	JOIN transactions d ON d.id = l.disbursement_id
	LEFT JOIN loan_payments p ON p.loan_id = l.id
	LEFT JOIN transactions pt ON pt.id = p.transaction_id`

const loanGroupBy = `l.id, r.account_number, d.transaction_number, d.amount`

func scanLoan(row rowScanner) (*loan.Loan, error) {
	var (
		l                                 loan.Loan
		principal, rate, repaid, interest int64
		writtenOff                        sql.NullTime
	)
	err := row.Scan(&l.ID, &l.Number, &l.Borrower, &l.BorrowerRefID,
		&l.DisbursementID, &l.Disbursement, &principal,
		&rate, &l.StartedAt, &writtenOff, &repaid, &interest)
	if err != nil {
		return nil, err
	}
	l.Principal = money.Amount(principal)
	l.InterestRate = money.Rate(rate)
	l.Repaid = money.Amount(repaid)
	l.InterestPaid = money.Amount(interest)
	l.StartedAt = l.StartedAt.UTC()
	if writtenOff.Valid {
		t := writtenOff.Time.UTC()
		l.WrittenOffAt = &t
	}
	return &l, nil
}

func loanByNumber(ctx context.Context, q queryer, number string) (*loan.Loan, error) {
	l, err := scanLoan(q.QueryRowContext(ctx, loanSelect+`
		WHERE l.loan_number = $1
		GROUP BY `+loanGroupBy, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loan.ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan %s: %w", number, err)
	}
	return l, nil
}

func queryLoans(ctx context.Context, q queryer, query string, args ...interface{}) ([]loan.Loan, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	var out []loan.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

var (
	_ ledger.Store = (*Store)(nil)
	_ loan.Store   = (*Store)(nil)
)
