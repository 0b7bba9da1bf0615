package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SimBank/internal/ledger"
	"SimBank/internal/loan"
	"SimBank/internal/money"
)

// pgTx is one READ COMMITTED unit. It satisfies loan.Tx and so ledger.Tx.
type pgTx struct {
	tx       *sql.Tx
	statuses *statusTable
}

func (t *pgTx) AccountByNumber(ctx context.Context, number string) (*ledger.Account, error) {
	return accountByNumber(ctx, t.tx, number, false)
}

func (t *pgTx) AccountByTeam(ctx context.Context, teamID string) (*ledger.Account, error) {
	return accountByTeam(ctx, t.tx, teamID)
}

func (t *pgTx) InsertAccount(ctx context.Context, a *ledger.Account) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO accounts (team_id, account_number, notification_url, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		a.TeamID, a.Number, a.NotificationURL, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (t *pgTx) CloseAccount(ctx context.Context, id int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET closed_at = $2 WHERE id = $1 AND closed_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("close account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountClosed
	}
	return nil
}

func (t *pgTx) UpdateNotificationURL(ctx context.Context, id int64, url string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET notification_url = $2 WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("update notification url: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

// ResolveRef inserts without DO UPDATE so an existing ref is never row-locked
// by a mere lookup.
func (t *pgTx) ResolveRef(ctx context.Context, bank, number string) (ledger.AccountRef, error) {
	ref := ledger.AccountRef{Bank: bank, Number: number}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO account_refs (bank, account_number) VALUES ($1, $2)
		ON CONFLICT (bank, account_number) DO NOTHING`, bank, number)
	if err != nil {
		return ref, fmt.Errorf("insert ref %s: %w", ref, err)
	}

	err = t.tx.QueryRowContext(ctx,
		`SELECT id FROM account_refs WHERE bank = $1 AND account_number = $2`,
		bank, number,
	).Scan(&ref.ID)
	if err != nil {
		return ref, fmt.Errorf("select ref %s: %w", ref, err)
	}
	return ref, nil
}

func (t *pgTx) LockRef(ctx context.Context, refID int64) error {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id FROM account_refs WHERE id = $1 FOR UPDATE`, refID).Scan(&id)
	if err != nil {
		return fmt.Errorf("lock ref %d: %w", refID, err)
	}
	return nil
}

func (t *pgTx) BalanceOf(ctx context.Context, refID int64) (money.Amount, error) {
	return balanceOf(ctx, t.tx, t.statuses, refID)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *ledger.Transaction) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO transactions
			(transaction_number, sender_ref_id, recipient_ref_id, amount, description, status_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		tr.Number, tr.Sender.ID, tr.Recipient.ID, int64(tr.Amount),
		tr.Description, t.statuses.id(tr.Status), tr.CreatedAt,
	).Scan(&tr.ID)
	if err != nil {
		return translate(err)
	}
	return nil
}

// --- loan.Tx ---

func (t *pgTx) InsertLoan(ctx context.Context, l *loan.Loan) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO loans (loan_number, borrower_ref_id, disbursement_id, interest_rate, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		l.Number, l.BorrowerRefID, l.DisbursementID, int64(l.InterestRate), l.StartedAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("insert loan %s: %w", l.Number, err)
	}
	return nil
}

// LoanByNumber locks the bare row first; FOR UPDATE is not allowed together
// with the aggregate select.
func (t *pgTx) LoanByNumber(ctx context.Context, number string, forUpdate bool) (*loan.Loan, error) {
	if forUpdate {
		var id int64
		err := t.tx.QueryRowContext(ctx,
			`SELECT id FROM loans WHERE loan_number = $1 FOR UPDATE`, number).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loan.ErrLoanNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lock loan %s: %w", number, err)
		}
	}
	return loanByNumber(ctx, t.tx, number)
}

const outstandingSelect = `
	SELECT COALESCE(SUM(o.outstanding), 0) FROM (
		SELECT d.amount - ` + repaidExpr + ` AS outstanding
		FROM loans l
		JOIN transactions d ON d.id = l.disbursement_id
		LEFT JOIN loan_payments p ON p.loan_id = l.id
		LEFT JOIN transactions pt ON pt.id = p.transaction_id
		WHERE l.written_off_at IS NULL %s
		GROUP BY l.id, d.amount
	) o`

func (t *pgTx) ActiveOutstanding(ctx context.Context, borrowerRefID int64) (money.Amount, error) {
	var total int64
	err := t.tx.QueryRowContext(ctx,
		fmt.Sprintf(outstandingSelect, "AND l.borrower_ref_id = $1"), borrowerRefID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("active outstanding: %w", err)
	}
	return money.Amount(total), nil
}

func (t *pgTx) BankActiveOutstanding(ctx context.Context) (money.Amount, error) {
	var total int64
	if err := t.tx.QueryRowContext(ctx, fmt.Sprintf(outstandingSelect, "")).Scan(&total); err != nil {
		return 0, fmt.Errorf("bank outstanding: %w", err)
	}
	return money.Amount(total), nil
}

func (t *pgTx) InsertPayment(ctx context.Context, loanID, transactionID int64, interest bool) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO loan_payments (loan_id, transaction_id, is_interest) VALUES ($1, $2, $3)`,
		loanID, transactionID, interest)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) WriteOff(ctx context.Context, loanID int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE loans SET written_off_at = $2 WHERE id = $1`, loanID, at)
	if err != nil {
		return fmt.Errorf("write off loan %d: %w", loanID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loan.ErrLoanNotFound
	}
	return nil
}

var _ loan.Tx = (*pgTx)(nil)
