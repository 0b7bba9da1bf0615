package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"SimBank/internal/ledger"
	"SimBank/internal/money"
	"SimBank/internal/observability"

	"github.com/rs/zerolog"
)

// Notification is the payload sent to webhooks and the event stream.
type Notification struct {
	TransactionNumber string            `json:"transaction_number"`
	Status            ledger.Status     `json:"status"`
	Amount            money.Amount      `json:"amount"`
	Timestamp         time.Time         `json:"timestamp"`
	Description       string            `json:"description"`
	From              ledger.AccountRef `json:"from"`
	To                ledger.AccountRef `json:"to"`
}

func FromTransaction(t ledger.Transaction) Notification {
	return Notification{
		TransactionNumber: t.Number,
		Status:            t.Status,
		Amount:            t.Amount,
		Timestamp:         t.CreatedAt,
		Description:       t.Description,
		From:              t.Sender,
		To:                t.Recipient,
	}
}

// Subject is the stream subject a notification is published on.
func (n Notification) Subject() string {
	return SubjectPrefix + "." + n.Status.String()
}

// Publisher hands a payload to the event stream.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// AccountLookup finds the recipient's webhook. ledger.Reader satisfies it.
type AccountLookup interface {
	GetAccountByNumber(ctx context.Context, number string) (*ledger.Account, error)
}

type Config struct {
	BankID    string
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

func (c *Config) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Dispatcher delivers notifications off the request path. Enqueueing never
// blocks: a full queue drops the notification and counts it.
type Dispatcher struct {
	cfg       Config
	accounts  AccountLookup
	publisher Publisher
	client    *http.Client
	queue     chan Notification

	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewDispatcher builds a dispatcher. publisher may be nil, in which case only
// webhooks are delivered.
func NewDispatcher(cfg Config, accounts AccountLookup, publisher Publisher, log zerolog.Logger, metrics *observability.Metrics) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		cfg:       cfg,
		accounts:  accounts,
		publisher: publisher,
		client:    &http.Client{Timeout: cfg.Timeout},
		queue:     make(chan Notification, cfg.QueueSize),
		log:       log,
		metrics:   metrics,
	}
}

// Observe has the ledger.Observer signature.
func (d *Dispatcher) Observe(_ context.Context, t ledger.Transaction) {
	d.Enqueue(FromTransaction(t))
}

// Enqueue reports whether n was queued.
func (d *Dispatcher) Enqueue(n Notification) bool {
	select {
	case d.queue <- n:
		if d.metrics != nil {
			d.metrics.SetChannelMetrics("notifications", len(d.queue), cap(d.queue))
		}
		return true
	default:
		if d.metrics != nil {
			d.metrics.NotificationDrops.Inc()
		}
		d.log.Warn().Str("number", n.TransactionNumber).Msg("notification queue full, dropping")
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	d.log.Info().Int("workers", d.cfg.Workers).Int("queue", d.cfg.QueueSize).Msg("notification dispatcher started")
	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		d.log.Error().Err(err).Str("number", n.TransactionNumber).Msg("marshal notification")
		return
	}

	if d.publisher != nil {
		err := d.publisher.Publish(ctx, n.Subject(), data)
		d.count("nats", err)
		if err != nil {
			d.log.Warn().Err(err).Str("number", n.TransactionNumber).Msg("publish notification failed")
		}
	}

	url, err := d.webhookURL(ctx, n)
	if err != nil {
		d.log.Warn().Err(err).Str("number", n.TransactionNumber).Msg("webhook lookup failed")
		return
	}
	if url == "" {
		return
	}
	err = d.post(ctx, url, data)
	d.count("webhook", err)
	if err != nil {
		d.log.Warn().Err(err).Str("number", n.TransactionNumber).Str("url", url).Msg("webhook delivery failed")
	}
}

// webhookURL returns "" when the recipient is foreign or has no webhook.
func (d *Dispatcher) webhookURL(ctx context.Context, n Notification) (string, error) {
	if n.To.Bank != d.cfg.BankID {
		return "", nil
	}
	acct, err := d.accounts.GetAccountByNumber(ctx, n.To.Number)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return acct.NotificationURL, nil
}

func (d *Dispatcher) post(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered %s", resp.Status)
	}
	return nil
}

func (d *Dispatcher) count(channel string, err error) {
	if d.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	d.metrics.NotificationsSent.WithLabelValues(channel, outcome).Inc()
}
