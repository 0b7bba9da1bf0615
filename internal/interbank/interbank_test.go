package interbank_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SimBank/internal/apperr"
	"SimBank/internal/interbank"
	"SimBank/internal/ledger"
	"SimBank/internal/memstore"
	"SimBank/internal/money"
	"SimBank/internal/simclock"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bank struct {
	id      string
	engine  *ledger.Engine
	dir     *ledger.Directory
	gateway *interbank.Gateway
}

func newBank(t *testing.T, id string, peers map[string]string) *bank {
	t.Helper()
	store := memstore.New()
	clock := simclock.NewManual(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	engine := ledger.NewEngine(store, id, clock)
	return &bank{
		id:     id,
		engine: engine,
		dir:    ledger.NewDirectory(store, id, clock, zerolog.Nop()),
		gateway: interbank.NewGateway(engine, interbank.Config{
			Banks:   peers,
			Trusted: []string{"central"},
		}, zerolog.Nop(), nil),
	}
}

func (b *bank) open(t *testing.T, team string) string {
	t.Helper()
	acct, err := b.dir.Open(context.Background(), ledger.OpenRequest{TeamID: team})
	require.NoError(t, err)
	return acct.Number
}

func (b *bank) fund(t *testing.T, number string, amount money.Amount) {
	t.Helper()
	tx, err := b.gateway.ReceiveDeposit(context.Background(), interbank.Deposit{
		TransactionNumber: "fund-" + number,
		FromBank:          "central",
		FromAccount:       "reserve",
		ToAccount:         number,
		Amount:            amount,
	})
	require.NoError(t, err)
	require.True(t, tx.Succeeded())
}

func (b *bank) balance(t *testing.T, number string) money.Amount {
	t.Helper()
	v, err := b.engine.Balance(context.Background(), number)
	require.NoError(t, err)
	return v
}

// depositHandler mimics the remote bank's HTTP endpoint.
func depositHandler(t *testing.T, remote *bank) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, interbank.DepositPath, r.URL.Path)
		var d interbank.Deposit
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&d)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		tx, err := remote.gateway.ReceiveDeposit(r.Context(), d)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			code := apperr.CodeOf(err)
			w.WriteHeader(apperr.HTTPStatus(code))
			json.NewEncoder(w).Encode(map[string]string{"code": string(code), "message": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(tx)
	})
}

type pair struct {
	local, remote *bank
	srv           *httptest.Server
}

func newPair(t *testing.T) *pair {
	t.Helper()
	remote := newBank(t, "bank-9", map[string]string{"bank-7": "http://unused"})
	srv := httptest.NewServer(depositHandler(t, remote))
	t.Cleanup(srv.Close)
	local := newBank(t, "bank-7", map[string]string{"bank-9": srv.URL + "/"})
	return &pair{local: local, remote: remote, srv: srv}
}

func TestSendDelivered(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	from := p.local.open(t, "team-a")
	to := p.remote.open(t, "team-z")
	p.local.fund(t, from, money.FromMajor(100))

	res, err := p.local.gateway.Send(ctx, interbank.Outbound{
		FromAccount: from,
		ToBank:      "bank-9",
		ToAccount:   to,
		Amount:      money.FromMajor(30),
		Description: "invoice 7",
	})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Nil(t, res.Refund)

	assert.Equal(t, money.FromMajor(70), p.local.balance(t, from))
	assert.Equal(t, money.FromMajor(30), p.remote.balance(t, to))

	// Both banks hold the transfer under the same number.
	mirrored, err := p.remote.engine.GetTransaction(ctx, res.Transaction.Number)
	require.NoError(t, err)
	assert.Equal(t, "bank-7", mirrored.Sender.Bank)
	assert.Equal(t, from, mirrored.Sender.Number)
}

func TestSendRefundedWhenRemoteAccountMissing(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	from := p.local.open(t, "team-a")
	p.local.fund(t, from, money.FromMajor(100))

	res, err := p.local.gateway.Send(ctx, interbank.Outbound{
		FromAccount: from,
		ToBank:      "bank-9",
		ToAccount:   "999999999999",
		Amount:      money.FromMajor(30),
		Number:      "tx-1",
	})
	assert.ErrorIs(t, err, interbank.ErrRemoteRejected)
	require.NotNil(t, res)
	assert.False(t, res.Delivered)
	require.NotNil(t, res.Refund)
	assert.Equal(t, "tx-1-refund", res.Refund.Number)
	assert.True(t, res.Refund.Succeeded())

	assert.Equal(t, money.FromMajor(100), p.local.balance(t, from))
}

func TestSendRefundedWhenRemoteUnreachable(t *testing.T) {
	local := newBank(t, "bank-7", map[string]string{"bank-9": "http://127.0.0.1:1"})
	from := local.open(t, "team-a")
	local.fund(t, from, money.FromMajor(10))

	res, err := local.gateway.Send(context.Background(), interbank.Outbound{
		FromAccount: from,
		ToBank:      "bank-9",
		ToAccount:   "123456789012",
		Amount:      money.FromMajor(10),
	})
	assert.ErrorIs(t, err, interbank.ErrRemoteRejected)
	require.NotNil(t, res.Refund)
	assert.Equal(t, money.FromMajor(10), local.balance(t, from))
}

func TestSendRefundsAfterCallerGoesAway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	local := newBank(t, "bank-7", map[string]string{"bank-9": srv.URL})
	from := local.open(t, "team-a")
	local.fund(t, from, money.FromMajor(1000))

	res, err := local.gateway.Send(ctx, interbank.Outbound{
		FromAccount: from,
		ToBank:      "bank-9",
		ToAccount:   "123456789012",
		Amount:      money.FromMajor(400),
		Number:      "x1",
	})
	assert.ErrorIs(t, err, interbank.ErrRemoteRejected)
	require.NotNil(t, res)
	assert.False(t, res.Delivered)
	require.NotNil(t, res.Refund)
	assert.True(t, res.Refund.Succeeded())
	assert.Equal(t, money.FromMajor(1000), local.balance(t, from))
}

func TestSendReportsRefundToClosedAccount(t *testing.T) {
	var local *bank
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := local.dir.Close(context.Background(), "team-a")
		assert.NoError(t, err)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	local = newBank(t, "bank-7", map[string]string{"bank-9": srv.URL})
	from := local.open(t, "team-a")
	local.fund(t, from, money.FromMajor(50))

	res, err := local.gateway.Send(context.Background(), interbank.Outbound{
		FromAccount: from,
		ToBank:      "bank-9",
		ToAccount:   "123456789012",
		Amount:      money.FromMajor(20),
		Number:      "x2",
	})
	assert.ErrorIs(t, err, interbank.ErrRefundNotBooked)
	assert.Equal(t, apperr.CodeRemoteUnavailable, apperr.CodeOf(err))
	require.NotNil(t, res.Refund)
	assert.Equal(t, ledger.StatusAccountNotFound, res.Refund.Status)
}

func TestSendAcceptsRemoteDuplicate(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	from := p.local.open(t, "team-a")
	to := p.remote.open(t, "team-z")
	p.local.fund(t, from, money.FromMajor(100))

	// The remote already has this number, e.g. from an earlier delivery.
	_, err := p.remote.gateway.ReceiveDeposit(ctx, interbank.Deposit{
		TransactionNumber: "tx-dup",
		FromBank:          "bank-7",
		FromAccount:       from,
		ToAccount:         to,
		Amount:            money.FromMajor(5),
	})
	require.NoError(t, err)

	res, err := p.local.gateway.Send(ctx, interbank.Outbound{
		FromAccount: from,
		ToBank:      "bank-9",
		ToAccount:   to,
		Amount:      money.FromMajor(5),
		Number:      "tx-dup",
	})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, money.FromMajor(5), p.remote.balance(t, to))
}

func TestSendInsufficientFundsIsNotDelivered(t *testing.T) {
	p := newPair(t)
	from := p.local.open(t, "team-a")
	to := p.remote.open(t, "team-z")

	res, err := p.local.gateway.Send(context.Background(), interbank.Outbound{
		FromAccount: from,
		ToBank:      "bank-9",
		ToAccount:   to,
		Amount:      money.FromMajor(1),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusInsufficientFunds, res.Transaction.Status)
	assert.False(t, res.Delivered)
	assert.Equal(t, money.Zero, p.remote.balance(t, to))
}

func TestSendUnknownBank(t *testing.T) {
	p := newPair(t)
	from := p.local.open(t, "team-a")

	_, err := p.local.gateway.Send(context.Background(), interbank.Outbound{
		FromAccount: from,
		ToBank:      "bank-404",
		ToAccount:   "123456789012",
		Amount:      money.FromMajor(1),
	})
	assert.ErrorIs(t, err, interbank.ErrUnknownBank)
	assert.Equal(t, apperr.CodeUnknownBank, apperr.CodeOf(err))

	list, err := p.local.engine.ListTransactions(context.Background(), from, ledger.ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, list, "nothing is written for an unknown bank")
}

func TestReceiveDepositRules(t *testing.T) {
	b := newBank(t, "bank-7", map[string]string{"bank-9": "http://unused"})
	ctx := context.Background()
	to := b.open(t, "team-a")

	_, err := b.gateway.ReceiveDeposit(ctx, interbank.Deposit{
		FromBank: "bank-9", FromAccount: "x", ToAccount: to, Amount: money.FromMajor(1),
	})
	assert.ErrorIs(t, err, ledger.ErrMissingField)

	_, err = b.gateway.ReceiveDeposit(ctx, interbank.Deposit{
		TransactionNumber: "n-1", FromBank: "bank-404", FromAccount: "x", ToAccount: to, Amount: money.FromMajor(1),
	})
	assert.ErrorIs(t, err, interbank.ErrUnknownBank)

	d := interbank.Deposit{
		TransactionNumber: "n-2", FromBank: "bank-9", FromAccount: "x", ToAccount: to, Amount: money.FromMajor(3),
	}
	tx, err := b.gateway.ReceiveDeposit(ctx, d)
	require.NoError(t, err)
	assert.True(t, tx.Succeeded())

	_, err = b.gateway.ReceiveDeposit(ctx, d)
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransaction)
	assert.Equal(t, money.FromMajor(3), b.balance(t, to))

	missing, err := b.gateway.ReceiveDeposit(ctx, interbank.Deposit{
		TransactionNumber: "n-3", FromBank: "bank-9", FromAccount: "x", ToAccount: "999999999999", Amount: money.FromMajor(3),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusAccountNotFound, missing.Status)
}
