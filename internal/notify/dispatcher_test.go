package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"SimBank/internal/ledger"
	"SimBank/internal/memstore"
	"SimBank/internal/money"
	"SimBank/internal/notify"
	"SimBank/internal/simclock"
	"SimBank/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bankID = "bank-7"

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

type setup struct {
	engine *ledger.Engine
	dir    *ledger.Directory
	disp   *notify.Dispatcher
	pub    *recordingPublisher
}

func newSetup(t *testing.T, cfg notify.Config) *setup {
	t.Helper()
	store := memstore.New()
	clock := simclock.NewManual(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	cfg.BankID = bankID
	disp := notify.NewDispatcher(cfg, store, pub, zerolog.Nop(), nil)
	return &setup{
		engine: ledger.NewEngine(store, bankID, clock, ledger.WithObserver(disp.Observe)),
		dir:    ledger.NewDirectory(store, bankID, clock, zerolog.Nop()),
		disp:   disp,
		pub:    pub,
	}
}

func (s *setup) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.disp.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWebhookReceivesSuccessfulTransfer(t *testing.T) {
	received := make(chan notify.Notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n notify.Notification
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&n)) {
			received <- n
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := newSetup(t, notify.Config{})
	s.run(t)
	ctx := context.Background()

	acct, err := s.dir.Open(ctx, ledger.OpenRequest{TeamID: "team-a", NotificationURL: srv.URL})
	require.NoError(t, err)

	tx, err := s.engine.RecordTransaction(ctx, ledger.TransferRequest{
		SenderBank:       "central",
		SenderAccount:    "reserve",
		RecipientBank:    bankID,
		RecipientAccount: acct.Number,
		Amount:           money.FromMajor(25),
		Description:      "welcome",
	})
	require.NoError(t, err)

	select {
	case n := <-received:
		assert.Equal(t, tx.Number, n.TransactionNumber)
		assert.Equal(t, ledger.StatusSuccess, n.Status)
		assert.Equal(t, money.FromMajor(25), n.Amount)
		assert.Equal(t, "welcome", n.Description)
		assert.Equal(t, "central", n.From.Bank)
		assert.Equal(t, acct.Number, n.To.Number)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}

	require.Eventually(t, func() bool { return s.pub.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "simbank.transactions.success", s.pub.subjects[0])
}

func TestFailedTransfersAreNotNotified(t *testing.T) {
	s := newSetup(t, notify.Config{})
	s.run(t)
	ctx := context.Background()

	a, err := s.dir.Open(ctx, ledger.OpenRequest{TeamID: "team-a"})
	require.NoError(t, err)
	b, err := s.dir.Open(ctx, ledger.OpenRequest{TeamID: "team-b"})
	require.NoError(t, err)

	tx, err := s.engine.RecordTransaction(ctx, ledger.TransferRequest{
		SenderBank:       bankID,
		SenderAccount:    a.Number,
		RecipientBank:    bankID,
		RecipientAccount: b.Number,
		Amount:           money.FromMajor(1),
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusInsufficientFunds, tx.Status)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, s.pub.count())
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	s := newSetup(t, notify.Config{QueueSize: 1})

	n := notify.Notification{TransactionNumber: "n-1", Status: ledger.StatusSuccess}
	assert.True(t, s.disp.Enqueue(n))
	assert.False(t, s.disp.Enqueue(n), "no worker is draining, second enqueue must drop")
}

func TestForeignRecipientSkipsWebhook(t *testing.T) {
	called := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- struct{}{}
	}))
	defer srv.Close()

	s := newSetup(t, notify.Config{})
	s.run(t)

	s.disp.Enqueue(notify.Notification{
		TransactionNumber: "x-1",
		Status:            ledger.StatusSuccess,
		To:                ledger.AccountRef{Bank: "other-bank", Number: "123456789012"},
	})

	require.Eventually(t, func() bool { return s.pub.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	select {
	case <-called:
		t.Fatal("webhook must not be called for foreign recipients")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJetStreamPublish(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := notify.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, notify.EnsureStream(ctx, js))

	pub := notify.NewJetStreamPublisher(js)
	require.NoError(t, pub.Publish(ctx, "simbank.transactions.success", []byte(`{}`)))
}
