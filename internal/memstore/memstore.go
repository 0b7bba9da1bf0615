// Package memstore implements the ledger and loan store contracts in process
// memory. One mutex serialises every unit; a unit that fails is undone step by
// step in reverse, so readers never observe partial writes.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SimBank/internal/ledger"
	"SimBank/internal/loan"
	"SimBank/internal/money"
)

type refKey struct {
	bank   string
	number string
}

type state struct {
	accounts        map[int64]*ledger.Account
	accountByNumber map[string]int64
	accountsByTeam  map[string][]int64

	refs     map[int64]ledger.AccountRef
	refByKey map[refKey]int64

	txs        []ledger.Transaction // index is ID-1
	txByNumber map[string]int64
	balances   map[int64]money.Amount

	loans        []*loan.Loan // index is ID-1
	loanByNumber map[string]int64
	payments     map[int64][]paymentRow

	nextAccountID int64
	nextRefID     int64
}

type paymentRow struct {
	transactionID int64
	interest      bool
}

func newState() *state {
	return &state{
		accounts:        make(map[int64]*ledger.Account),
		accountByNumber: make(map[string]int64),
		accountsByTeam:  make(map[string][]int64),
		refs:            make(map[int64]ledger.AccountRef),
		refByKey:        make(map[refKey]int64),
		txByNumber:      make(map[string]int64),
		balances:        make(map[int64]money.Amount),
		loanByNumber:    make(map[string]int64),
		payments:        make(map[int64][]paymentRow),
	}
}

type Store struct {
	mu sync.Mutex
	s  *state
}

func New() *Store {
	return &Store{s: newState()}
}

// Reset drops every row.
func (m *Store) Reset(_ context.Context) error {
	m.mu.Lock()
	m.s = newState()
	m.mu.Unlock()
	return nil
}

func (m *Store) WithinTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return m.within(ctx, func(u *unit) error { return fn(u) })
}

func (m *Store) WithinLoanTx(ctx context.Context, fn func(loan.Tx) error) error {
	return m.within(ctx, func(u *unit) error { return fn(u) })
}

func (m *Store) within(ctx context.Context, fn func(*unit) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &unit{s: m.s}
	defer func() {
		if r := recover(); r != nil {
			u.rollback()
			panic(r)
		}
		if err != nil {
			u.rollback()
		}
	}()
	return fn(u)
}

// --- Reader ---

func (m *Store) GetAccountByNumber(_ context.Context, number string) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.accountByNumberLocked(number)
}

func (m *Store) GetAccountByTeam(_ context.Context, teamID string) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.accountByTeamLocked(teamID)
}

func (m *Store) ListOpenAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ledger.Account, 0, len(m.s.accounts))
	for _, a := range m.s.accounts {
		if !a.Closed() {
			out = append(out, copyAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) Balance(_ context.Context, bank, number string) (money.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.s.refByKey[refKey{bank, number}]
	if !ok {
		return 0, nil
	}
	return m.s.balances[id], nil
}

func (m *Store) GetTransaction(_ context.Context, number string) (*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.s.txByNumber[number]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	t := m.s.txs[id-1]
	return &t, nil
}

func (m *Store) NumberTaken(_ context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.s.txByNumber[number]
	return ok, nil
}

func (m *Store) ListTransactions(_ context.Context, bank, number string, q ledger.ListQuery) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.s.refByKey[refKey{bank, number}]
	if !ok {
		return nil, nil
	}
	var out []ledger.Transaction
	for i := len(m.s.txs) - 1; i >= 0 && len(out) < q.Limit; i-- {
		t := m.s.txs[i]
		if q.BeforeID > 0 && t.ID >= q.BeforeID {
			continue
		}
		if t.Sender.ID == ref || t.Recipient.ID == ref {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Store) RecentTransactionNumbers(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, limit)
	for i := len(m.s.txs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.s.txs[i].Number)
	}
	return out, nil
}

// --- loan.Store readers ---

func (m *Store) GetLoan(_ context.Context, number string) (*loan.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.loanByNumberLocked(number)
}

func (m *Store) ListLoans(_ context.Context, borrower string) ([]loan.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []loan.Loan
	for _, l := range m.s.loans {
		if l.Borrower == borrower {
			out = append(out, copyLoan(l))
		}
	}
	return out, nil
}

func (m *Store) ActiveLoans(_ context.Context) ([]loan.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []loan.Loan
	for _, l := range m.s.loans {
		if l.Active() {
			out = append(out, copyLoan(l))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *Store) Payments(_ context.Context, loanID int64) ([]loan.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.s.payments[loanID]
	out := make([]loan.Payment, 0, len(rows))
	for _, p := range rows {
		out = append(out, loan.Payment{
			LoanID:      loanID,
			IsInterest:  p.interest,
			Transaction: m.s.txs[p.transactionID-1],
		})
	}
	return out, nil
}

// --- state helpers, called with mu held ---

func (s *state) accountByNumberLocked(number string) (*ledger.Account, error) {
	id, ok := s.accountByNumber[number]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	a := copyAccount(s.accounts[id])
	return &a, nil
}

// accountByTeamLocked prefers the open account, else the most recent one.
func (s *state) accountByTeamLocked(teamID string) (*ledger.Account, error) {
	ids := s.accountsByTeam[teamID]
	if len(ids) == 0 {
		return nil, ledger.ErrAccountNotFound
	}
	for _, id := range ids {
		if a := s.accounts[id]; !a.Closed() {
			c := copyAccount(a)
			return &c, nil
		}
	}
	a := copyAccount(s.accounts[ids[len(ids)-1]])
	return &a, nil
}

func (s *state) loanByNumberLocked(number string) (*loan.Loan, error) {
	id, ok := s.loanByNumber[number]
	if !ok {
		return nil, loan.ErrLoanNotFound
	}
	l := copyLoan(s.loans[id-1])
	return &l, nil
}

func copyAccount(a *ledger.Account) ledger.Account {
	c := *a
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		c.ClosedAt = &t
	}
	return c
}

func copyLoan(l *loan.Loan) loan.Loan {
	c := *l
	if l.WrittenOffAt != nil {
		t := *l.WrittenOffAt
		c.WrittenOffAt = &t
	}
	return c
}

// --- unit ---

type unit struct {
	s    *state
	undo []func()
}

func (u *unit) onRollback(f func()) { u.undo = append(u.undo, f) }

func (u *unit) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

func (u *unit) AccountByNumber(_ context.Context, number string) (*ledger.Account, error) {
	return u.s.accountByNumberLocked(number)
}

func (u *unit) AccountByTeam(_ context.Context, teamID string) (*ledger.Account, error) {
	return u.s.accountByTeamLocked(teamID)
}

func (u *unit) InsertAccount(_ context.Context, a *ledger.Account) error {
	s := u.s
	if _, taken := s.accountByNumber[a.Number]; taken {
		return ledger.ErrAccountExists
	}
	for _, id := range s.accountsByTeam[a.TeamID] {
		if !s.accounts[id].Closed() {
			return ledger.ErrAccountExists
		}
	}

	s.nextAccountID++
	a.ID = s.nextAccountID
	stored := copyAccount(a)
	s.accounts[a.ID] = &stored
	s.accountByNumber[a.Number] = a.ID
	prevTeam := s.accountsByTeam[a.TeamID]
	s.accountsByTeam[a.TeamID] = append(prevTeam[:len(prevTeam):len(prevTeam)], a.ID)

	id := a.ID
	u.onRollback(func() {
		delete(s.accounts, id)
		delete(s.accountByNumber, stored.Number)
		s.accountsByTeam[stored.TeamID] = prevTeam
		s.nextAccountID--
	})
	return nil
}

func (u *unit) CloseAccount(_ context.Context, id int64, at time.Time) error {
	a, ok := u.s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	prev := a.ClosedAt
	closedAt := at
	a.ClosedAt = &closedAt
	u.onRollback(func() { a.ClosedAt = prev })
	return nil
}

func (u *unit) UpdateNotificationURL(_ context.Context, id int64, url string) error {
	a, ok := u.s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	prev := a.NotificationURL
	a.NotificationURL = url
	u.onRollback(func() { a.NotificationURL = prev })
	return nil
}

func (u *unit) ResolveRef(_ context.Context, bank, number string) (ledger.AccountRef, error) {
	s := u.s
	key := refKey{bank, number}
	if id, ok := s.refByKey[key]; ok {
		return s.refs[id], nil
	}

	s.nextRefID++
	ref := ledger.AccountRef{ID: s.nextRefID, Bank: bank, Number: number}
	s.refs[ref.ID] = ref
	s.refByKey[key] = ref.ID
	u.onRollback(func() {
		delete(s.refs, ref.ID)
		delete(s.refByKey, key)
		s.nextRefID--
	})
	return ref, nil
}

// LockRef is a no-op: the store mutex already serialises units.
func (u *unit) LockRef(_ context.Context, refID int64) error {
	if _, ok := u.s.refs[refID]; !ok {
		return fmt.Errorf("lock unknown ref %d", refID)
	}
	return nil
}

func (u *unit) BalanceOf(_ context.Context, refID int64) (money.Amount, error) {
	return u.s.balances[refID], nil
}

func (u *unit) InsertTransaction(_ context.Context, t *ledger.Transaction) error {
	s := u.s
	if _, taken := s.txByNumber[t.Number]; taken {
		return ledger.ErrDuplicateTransaction
	}

	t.ID = int64(len(s.txs)) + 1
	s.txs = append(s.txs, *t)
	s.txByNumber[t.Number] = t.ID
	if t.Succeeded() {
		s.balances[t.Sender.ID] -= t.Amount
		s.balances[t.Recipient.ID] += t.Amount
	}

	row := *t
	u.onRollback(func() {
		if row.Succeeded() {
			s.balances[row.Sender.ID] += row.Amount
			s.balances[row.Recipient.ID] -= row.Amount
		}
		delete(s.txByNumber, row.Number)
		s.txs = s.txs[:row.ID-1]
	})
	return nil
}

func (u *unit) InsertLoan(_ context.Context, l *loan.Loan) error {
	s := u.s
	if _, taken := s.loanByNumber[l.Number]; taken {
		return fmt.Errorf("loan number %s already used", l.Number)
	}

	l.ID = int64(len(s.loans)) + 1
	stored := copyLoan(l)
	s.loans = append(s.loans, &stored)
	s.loanByNumber[l.Number] = l.ID

	id := l.ID
	u.onRollback(func() {
		delete(s.loanByNumber, stored.Number)
		s.loans = s.loans[:id-1]
	})
	return nil
}

func (u *unit) LoanByNumber(_ context.Context, number string, _ bool) (*loan.Loan, error) {
	return u.s.loanByNumberLocked(number)
}

func (u *unit) ActiveOutstanding(_ context.Context, borrowerRefID int64) (money.Amount, error) {
	var total money.Amount
	for _, l := range u.s.loans {
		if l.BorrowerRefID == borrowerRefID && l.Active() {
			total += l.Outstanding()
		}
	}
	return total, nil
}

func (u *unit) BankActiveOutstanding(_ context.Context) (money.Amount, error) {
	var total money.Amount
	for _, l := range u.s.loans {
		if l.Active() {
			total += l.Outstanding()
		}
	}
	return total, nil
}

func (u *unit) InsertPayment(_ context.Context, loanID, transactionID int64, interest bool) error {
	s := u.s
	if loanID < 1 || int(loanID) > len(s.loans) {
		return loan.ErrLoanNotFound
	}
	if transactionID < 1 || int(transactionID) > len(s.txs) {
		return ledger.ErrTransactionNotFound
	}
	l := s.loans[loanID-1]
	amount := s.txs[transactionID-1].Amount

	if interest {
		l.InterestPaid += amount
	} else {
		l.Repaid += amount
	}
	prev := s.payments[loanID]
	s.payments[loanID] = append(prev[:len(prev):len(prev)], paymentRow{transactionID: transactionID, interest: interest})

	u.onRollback(func() {
		if interest {
			l.InterestPaid -= amount
		} else {
			l.Repaid -= amount
		}
		s.payments[loanID] = prev
	})
	return nil
}

func (u *unit) WriteOff(_ context.Context, loanID int64, at time.Time) error {
	if loanID < 1 || int(loanID) > len(u.s.loans) {
		return loan.ErrLoanNotFound
	}
	l := u.s.loans[loanID-1]
	prev := l.WrittenOffAt
	writtenOff := at
	l.WrittenOffAt = &writtenOff
	u.onRollback(func() { l.WrittenOffAt = prev })
	return nil
}

var (
	_ ledger.Store = (*Store)(nil)
	_ loan.Store   = (*Store)(nil)
	_ loan.Tx      = (*unit)(nil)
)
