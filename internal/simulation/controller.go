package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SimBank/internal/apperr"
	"SimBank/internal/ledger"
	"SimBank/internal/loan"
	"SimBank/internal/money"
	"SimBank/internal/simclock"

	"github.com/rs/zerolog"
)

var ErrNotRunning = apperr.New(apperr.CodeSimulationNotRunning, "simulation is not running")

// Clock is the lifecycle side of the simulated clock.
type Clock interface {
	simclock.Clock
	Start(epoch time.Time, onDay simclock.DayFunc)
	Stop()
	Wait()
	Running() bool
}

// Resetter wipes every ledger and loan row.
type Resetter interface {
	Reset(ctx context.Context) error
}

type Config struct {
	// BankTeam owns the bank's own account.
	BankTeam string
	// CentralBank and CentralAccount fund the investable capital.
	CentralBank    string
	CentralAccount string
	// LoanableFraction of the capital becomes the bank-wide loan cap.
	LoanableFraction money.Rate
}

// StartRequest initialises the bank for a new simulation run.
type StartRequest struct {
	EpochStart        time.Time    `json:"epoch_start_time"`
	InterestRate      money.Rate   `json:"interest_rate"`
	InvestableCapital money.Amount `json:"investable_capital"`
}

type Status struct {
	Running     bool          `json:"running"`
	Now         time.Time     `json:"now"`
	Run         *StartRequest `json:"run,omitempty"`
	BankAccount string        `json:"bank_account"`
	BankLoanCap money.Amount  `json:"bank_loan_cap"`
}

// Controller starts and ends simulation runs. Starting a run wipes the
// previous one.
type Controller struct {
	store Resetter
	clock Clock
	led   *ledger.Engine
	dir   *ledger.Directory
	loans *loan.Engine
	cfg   Config

	mu  sync.Mutex
	run *StartRequest

	log zerolog.Logger
}

func NewController(store Resetter, clock Clock, led *ledger.Engine, dir *ledger.Directory, loans *loan.Engine, cfg Config, log zerolog.Logger) *Controller {
	if cfg.BankTeam == "" {
		cfg.BankTeam = "bank"
	}
	return &Controller{
		store: store,
		clock: clock,
		led:   led,
		dir:   dir,
		loans: loans,
		cfg:   cfg,
		log:   log,
	}
}

// Start stops any running clock, resets the store, opens the bank account,
// credits the investable capital from the central bank and starts the clock
// with the daily cycle on every day boundary.
func (c *Controller) Start(ctx context.Context, req StartRequest) (*Status, error) {
	if req.EpochStart.IsZero() {
		return nil, fmt.Errorf("%w: epoch_start_time", ledger.ErrMissingField)
	}
	if req.InterestRate < 0 {
		return nil, loan.ErrInvalidRate
	}
	if req.InvestableCapital < 0 {
		return nil, ledger.ErrInvalidAmount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock.Stop()
	c.clock.Wait()
	c.run = nil

	if err := c.store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset store: %w", err)
	}
	c.led.ForgetKnownNumbers()

	c.clock.Start(req.EpochStart, c.loans.OnDayBoundary)

	if err := c.initBank(ctx, req); err != nil {
		c.clock.Stop()
		return nil, err
	}

	run := req
	c.run = &run
	c.log.Info().
		Time("epoch", req.EpochStart).
		Str("interest_rate", req.InterestRate.String()).
		Str("capital", req.InvestableCapital.String()).
		Msg("simulation started")
	return c.statusLocked(), nil
}

func (c *Controller) initBank(ctx context.Context, req StartRequest) error {
	bankAccount := c.loans.BankAccount()
	_, err := c.dir.Open(ctx, ledger.OpenRequest{TeamID: c.cfg.BankTeam, Number: bankAccount})
	if err != nil && !errors.Is(err, ledger.ErrAccountExists) {
		return fmt.Errorf("open bank account: %w", err)
	}

	if req.InvestableCapital > 0 {
		t, err := c.led.RecordTransaction(ctx, ledger.TransferRequest{
			SenderBank:       c.cfg.CentralBank,
			SenderAccount:    c.cfg.CentralAccount,
			RecipientBank:    c.led.BankID(),
			RecipientAccount: bankAccount,
			Amount:           req.InvestableCapital,
			Description:      "investable capital",
		})
		if err != nil {
			return fmt.Errorf("credit capital: %w", err)
		}
		if !t.Succeeded() {
			return fmt.Errorf("credit capital: status %s", t.Status)
		}
	}

	if err := c.loans.SetInterestRate(req.InterestRate); err != nil {
		return err
	}
	return c.loans.SetBankLoanCap(req.InvestableCapital.MulRate(c.cfg.LoanableFraction, money.RoundDown))
}

// End stops the clock. Ledger operations already in flight complete.
func (c *Controller) End(_ context.Context) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.clock.Running() {
		return nil, ErrNotRunning
	}
	c.clock.Stop()
	c.log.Info().Time("at", c.clock.Now()).Msg("simulation ended")
	return c.statusLocked(), nil
}

func (c *Controller) Status() *Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() *Status {
	s := &Status{
		Running:     c.clock.Running(),
		Now:         c.clock.Now(),
		BankAccount: c.loans.BankAccount(),
		BankLoanCap: c.loans.Settings().BankLoanCap,
	}
	if c.run != nil {
		run := *c.run
		s.Run = &run
	}
	return s
}
