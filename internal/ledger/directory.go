package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"

	"SimBank/internal/simclock"

	"github.com/rs/zerolog"
)

var accountNumberSpace = big.NewInt(1_000_000_000_000)

// Directory maps team identities onto this bank's accounts. A team holds at
// most one open account.
type Directory struct {
	store  Store
	bankID string
	clock  simclock.Clock
	log    zerolog.Logger
}

func NewDirectory(store Store, bankID string, clock simclock.Clock, log zerolog.Logger) *Directory {
	return &Directory{store: store, bankID: bankID, clock: clock, log: log}
}

// OpenRequest describes a new account. Number is normally empty and generated.
type OpenRequest struct {
	TeamID          string
	NotificationURL string
	Number          string
}

func (d *Directory) Open(ctx context.Context, req OpenRequest) (*Account, error) {
	if req.TeamID == "" {
		return nil, fmt.Errorf("%w: team id", ErrMissingField)
	}
	if err := validateNotificationURL(req.NotificationURL); err != nil {
		return nil, err
	}
	number := req.Number
	if number == "" {
		generated, err := generateAccountNumber()
		if err != nil {
			return nil, err
		}
		number = generated
	}
	if !ValidAccountNumber(number) {
		return nil, ErrInvalidAccountNumber
	}

	acct := &Account{
		TeamID:          req.TeamID,
		Number:          number,
		NotificationURL: req.NotificationURL,
		CreatedAt:       d.clock.Now(),
	}
	err := d.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.AccountByTeam(ctx, req.TeamID)
		if err == nil && !existing.Closed() {
			return ErrAccountExists
		}
		if err != nil && !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		_, err = tx.ResolveRef(ctx, d.bankID, number)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.log.Info().Str("team", acct.TeamID).Str("account", acct.Number).Msg("account opened")
	return acct, nil
}

// Close marks the team's open account closed. History stays valid.
func (d *Directory) Close(ctx context.Context, teamID string) (*Account, error) {
	var acct *Account
	err := d.store.WithinTx(ctx, func(tx Tx) error {
		a, err := tx.AccountByTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if a.Closed() {
			return ErrAccountClosed
		}
		now := d.clock.Now()
		if err := tx.CloseAccount(ctx, a.ID, now); err != nil {
			return err
		}
		a.ClosedAt = &now
		acct = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Info().Str("team", teamID).Str("account", acct.Number).Msg("account closed")
	return acct, nil
}

// ByTeam answers the identity question: ErrAccountNotFound when the team has
// no open account.
func (d *Directory) ByTeam(ctx context.Context, teamID string) (*Account, error) {
	acct, err := d.store.GetAccountByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if acct.Closed() {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// ByNumber returns the account even when closed.
func (d *Directory) ByNumber(ctx context.Context, number string) (*Account, error) {
	if !ValidAccountNumber(number) {
		return nil, ErrInvalidAccountNumber
	}
	return d.store.GetAccountByNumber(ctx, number)
}

func (d *Directory) ListOpen(ctx context.Context) ([]Account, error) {
	return d.store.ListOpenAccounts(ctx)
}

func (d *Directory) UpdateNotificationURL(ctx context.Context, teamID, rawURL string) (*Account, error) {
	if err := validateNotificationURL(rawURL); err != nil {
		return nil, err
	}
	var acct *Account
	err := d.store.WithinTx(ctx, func(tx Tx) error {
		a, err := tx.AccountByTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if a.Closed() {
			return ErrAccountClosed
		}
		if err := tx.UpdateNotificationURL(ctx, a.ID, rawURL); err != nil {
			return err
		}
		a.NotificationURL = rawURL
		acct = a
		return nil
	})
	return acct, err
}

func validateNotificationURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: notification url must be an absolute http(s) url", ErrMissingField)
	}
	return nil
}

func generateAccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, accountNumberSpace)
	if err != nil {
		return "", fmt.Errorf("generate account number: %w", err)
	}
	return fmt.Sprintf("%012d", n.Int64()), nil
}
