package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"SimBank/internal/money"
	"SimBank/internal/observability"
	"SimBank/internal/simclock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxTransactionNumberLen bounds caller-supplied transaction numbers.
const MaxTransactionNumberLen = 128

var accountNumberPattern = regexp.MustCompile(`^[0-9]{12}$`)

// ValidAccountNumber reports whether s has this bank's account number format.
func ValidAccountNumber(s string) bool {
	return accountNumberPattern.MatchString(s)
}

// Observer is told about every committed successful transaction.
type Observer func(ctx context.Context, t Transaction)

// Engine appends transactions and answers balance queries.
type Engine struct {
	store  Store
	bankID string
	clock  simclock.Clock

	known     *KnownNumbers
	observers []Observer

	log     zerolog.Logger
	metrics *observability.Metrics
}

type Option func(*Engine)

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithKnownNumbersCapacity sizes the duplicate-number LRU.
func WithKnownNumbersCapacity(n int) Option {
	return func(e *Engine) { e.known = NewKnownNumbers(n) }
}

func NewEngine(store Store, bankID string, clock simclock.Clock, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		bankID: bankID,
		clock:  clock,
		known:  NewKnownNumbers(100_000),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) BankID() string { return e.bankID }

func (e *Engine) Store() Store { return e.store }

func (e *Engine) Clock() simclock.Clock { return e.clock }

// Observe adds an observer after construction.
func (e *Engine) Observe(o Observer) {
	e.observers = append(e.observers, o)
}

// WarmKnownNumbers preloads the duplicate LRU from the most recent rows.
func (e *Engine) WarmKnownNumbers(ctx context.Context, limit int) error {
	numbers, err := e.store.RecentTransactionNumbers(ctx, limit)
	if err != nil {
		return fmt.Errorf("load recent transaction numbers: %w", err)
	}
	e.known.Warm(numbers)
	e.log.Info().Int("count", len(numbers)).Msg("warmed transaction number cache")
	return nil
}

// ForgetKnownNumbers clears the duplicate LRU after the store is wiped.
func (e *Engine) ForgetKnownNumbers() {
	e.known.Forget()
}

// Validate checks a request without touching the store.
func (e *Engine) Validate(req TransferRequest) error {
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if req.SenderBank == "" || req.RecipientBank == "" ||
		req.SenderAccount == "" || req.RecipientAccount == "" {
		return fmt.Errorf("%w: sender and recipient are required", ErrMissingField)
	}
	if req.SenderBank == e.bankID && !ValidAccountNumber(req.SenderAccount) {
		return ErrInvalidAccountNumber
	}
	if req.RecipientBank == e.bankID && !ValidAccountNumber(req.RecipientAccount) {
		return ErrInvalidAccountNumber
	}
	if req.SenderBank == req.RecipientBank && req.SenderAccount == req.RecipientAccount {
		return ErrSameAccount
	}
	if utf8.RuneCountInString(req.Description) > MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if len(req.Number) > MaxTransactionNumberLen {
		return fmt.Errorf("%w: transaction number too long", ErrMissingField)
	}
	return nil
}

// RecordTransaction validates req and writes it in its own unit. The row is
// written whatever the computed status; the returned error is reserved for
// validation, duplicates and infrastructure failures.
func (e *Engine) RecordTransaction(ctx context.Context, req TransferRequest) (*Transaction, error) {
	start := time.Now()

	if err := e.Validate(req); err != nil {
		return nil, err
	}
	if req.Number != "" {
		if e.known.Contains(req.Number) {
			e.countDuplicate("lru")
			return nil, ErrDuplicateTransaction
		}
		// Cache miss: ask the index before opening a write unit. The unique
		// constraint still decides races between concurrent writers.
		taken, err := e.store.NumberTaken(ctx, req.Number)
		if err != nil {
			return nil, fmt.Errorf("check transaction number: %w", err)
		}
		if taken {
			e.countDuplicate("index")
			e.known.Add(req.Number)
			return nil, ErrDuplicateTransaction
		}
	}

	var out *Transaction
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		t, err := e.Record(ctx, tx, req)
		out = t
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			e.countDuplicate("store")
			e.known.Add(req.Number)
			return nil, err
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.TransactionDuration.Observe(time.Since(start).Seconds())
	}
	e.Committed(ctx, out)
	return out, nil
}

// Record writes req through a unit the caller owns. The caller must call
// Committed once the unit has committed.
func (e *Engine) Record(ctx context.Context, tx Tx, req TransferRequest) (*Transaction, error) {
	if err := e.Validate(req); err != nil {
		return nil, err
	}

	number := req.Number
	if number == "" {
		number = uuid.NewString()
	}

	sender, err := tx.ResolveRef(ctx, req.SenderBank, req.SenderAccount)
	if err != nil {
		return nil, fmt.Errorf("resolve sender ref: %w", err)
	}
	recipient, err := tx.ResolveRef(ctx, req.RecipientBank, req.RecipientAccount)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient ref: %w", err)
	}

	status, err := e.status(ctx, tx, req, sender)
	if err != nil {
		return nil, err
	}

	t := &Transaction{
		Number:      number,
		Sender:      sender,
		Recipient:   recipient,
		Amount:      req.Amount,
		Description: req.Description,
		Status:      status,
		CreatedAt:   e.clock.Now(),
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return nil, err
		}
		return nil, fmt.Errorf("insert transaction %s: %w", number, err)
	}
	return t, nil
}

func (e *Engine) status(ctx context.Context, tx Tx, req TransferRequest, sender AccountRef) (Status, error) {
	ownSender := req.SenderBank == e.bankID

	if ownSender {
		if err := tx.LockRef(ctx, sender.ID); err != nil {
			return "", fmt.Errorf("lock sender ref: %w", err)
		}
		ok, err := e.openAccount(ctx, tx, req.SenderAccount)
		if err != nil {
			return "", err
		}
		if !ok {
			return StatusAccountNotFound, nil
		}
	}

	if req.RecipientBank == e.bankID {
		ok, err := e.openAccount(ctx, tx, req.RecipientAccount)
		if err != nil {
			return "", err
		}
		if !ok {
			return StatusAccountNotFound, nil
		}
	}

	// External senders are settled by their own bank.
	if ownSender {
		balance, err := tx.BalanceOf(ctx, sender.ID)
		if err != nil {
			return "", fmt.Errorf("sender balance: %w", err)
		}
		if balance < req.Amount {
			return StatusInsufficientFunds, nil
		}
	}
	return StatusSuccess, nil
}

func (e *Engine) openAccount(ctx context.Context, tx Tx, number string) (bool, error) {
	acct, err := tx.AccountByNumber(ctx, number)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup account %s: %w", number, err)
	}
	return !acct.Closed(), nil
}

// Committed runs the after-commit bookkeeping for t.
func (e *Engine) Committed(ctx context.Context, t *Transaction) {
	if t == nil {
		return
	}
	e.known.Add(t.Number)

	if e.metrics != nil {
		e.metrics.TransactionsRecorded.WithLabelValues(t.Status.String()).Inc()
		e.metrics.KnownNumbersSize.Set(float64(e.known.Size()))
	}

	e.log.Debug().
		Str("number", t.Number).
		Str("from", t.Sender.String()).
		Str("to", t.Recipient.String()).
		Str("amount", t.Amount.String()).
		Str("status", t.Status.String()).
		Msg("transaction recorded")

	if !t.Succeeded() {
		return
	}
	for _, o := range e.observers {
		o(ctx, *t)
	}
}

func (e *Engine) countDuplicate(tier string) {
	if e.metrics != nil {
		e.metrics.DuplicateTransactions.WithLabelValues(tier).Inc()
	}
}

// Balance returns the effective balance of one of this bank's accounts.
func (e *Engine) Balance(ctx context.Context, number string) (money.Amount, error) {
	if !ValidAccountNumber(number) {
		return 0, ErrInvalidAccountNumber
	}
	if _, err := e.store.GetAccountByNumber(ctx, number); err != nil {
		return 0, err
	}
	return e.store.Balance(ctx, e.bankID, number)
}

func (e *Engine) GetTransaction(ctx context.Context, number string) (*Transaction, error) {
	if number == "" {
		return nil, fmt.Errorf("%w: transaction number", ErrMissingField)
	}
	return e.store.GetTransaction(ctx, number)
}

// ListTransactions returns the account's transactions in either direction,
// newest first, failed attempts included.
func (e *Engine) ListTransactions(ctx context.Context, number string, q ListQuery) ([]Transaction, error) {
	if !ValidAccountNumber(number) {
		return nil, ErrInvalidAccountNumber
	}
	return e.store.ListTransactions(ctx, e.bankID, number, q.Normalize())
}

// Involves reports whether number is the sender or recipient of t at this bank.
func (e *Engine) Involves(t *Transaction, number string) bool {
	return (t.Sender.Bank == e.bankID && t.Sender.Number == number) ||
		(t.Recipient.Bank == e.bankID && t.Recipient.Number == number)
}
