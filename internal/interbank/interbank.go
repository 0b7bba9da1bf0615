package interbank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"SimBank/internal/apperr"
	"SimBank/internal/ledger"
	"SimBank/internal/money"
	"SimBank/internal/observability"

	"github.com/rs/zerolog"
)

// DepositPath is where every bank accepts inbound transfers.
const DepositPath = "/v1/interbank/transfers"

var (
	ErrUnknownBank    = apperr.New(apperr.CodeUnknownBank, "unknown bank")
	ErrRemoteRejected = apperr.New(apperr.CodeRemoteUnavailable, "remote bank did not accept the transfer")
	// ErrRefundNotBooked means the remote bank did not accept the transfer and
	// the refund row was stored with a failed status, so the sender was not
	// credited back.
	ErrRefundNotBooked = apperr.New(apperr.CodeRemoteUnavailable, "remote bank did not accept the transfer and the refund was not booked")
)

// Deposit is the wire form of an interbank transfer, as sent and received.
type Deposit struct {
	TransactionNumber string       `json:"transaction_number"`
	FromBank          string       `json:"from_bank"`
	FromAccount       string       `json:"from_account"`
	ToAccount         string       `json:"to_account"`
	Amount            money.Amount `json:"amount"`
	Description       string       `json:"description"`
}

// Outbound asks to move money from a local account to another bank.
type Outbound struct {
	FromAccount string
	ToBank      string
	ToAccount   string
	Amount      money.Amount
	Description string
	Number      string
}

// SendResult carries the local debit and, when the remote bank did not
// accept it, the refund that reversed it.
type SendResult struct {
	Transaction *ledger.Transaction `json:"transaction"`
	Refund      *ledger.Transaction `json:"refund,omitempty"`
	Delivered   bool                `json:"delivered"`
}

type Config struct {
	// Banks maps a bank id to its base URL.
	Banks map[string]string
	// Trusted are bank ids allowed to deposit without a registered endpoint,
	// typically the central bank.
	Trusted []string
	Timeout time.Duration
}

// Gateway moves money across banks. The local ledger is always written
// first; remote delivery follows.
type Gateway struct {
	ledger  *ledger.Engine
	banks   map[string]string
	trusted map[string]bool
	client  *http.Client

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewGateway(led *ledger.Engine, cfg Config, log zerolog.Logger, metrics *observability.Metrics) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	banks := make(map[string]string, len(cfg.Banks))
	for id, url := range cfg.Banks {
		banks[id] = strings.TrimRight(url, "/")
	}
	trusted := make(map[string]bool, len(cfg.Trusted))
	for _, id := range cfg.Trusted {
		trusted[id] = true
	}
	return &Gateway{
		ledger:  led,
		banks:   banks,
		trusted: trusted,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
		metrics: metrics,
	}
}

// Known reports whether bank may exchange transfers with this one.
func (g *Gateway) Known(bank string) bool {
	_, ok := g.banks[bank]
	return ok || g.trusted[bank]
}

// ReceiveDeposit books an inbound transfer. The sender's transaction number is
// the idempotency key, so a redelivered deposit yields duplicate_transaction.
// An unknown recipient is not an error: the row is stored with its status.
func (g *Gateway) ReceiveDeposit(ctx context.Context, d Deposit) (*ledger.Transaction, error) {
	if d.TransactionNumber == "" {
		return nil, fmt.Errorf("%w: transaction_number", ledger.ErrMissingField)
	}
	if d.FromBank == "" || d.FromBank == g.ledger.BankID() || !g.Known(d.FromBank) {
		g.count("inbound", "unknown_bank")
		return nil, ErrUnknownBank
	}

	t, err := g.ledger.RecordTransaction(ctx, ledger.TransferRequest{
		SenderBank:       d.FromBank,
		SenderAccount:    d.FromAccount,
		RecipientBank:    g.ledger.BankID(),
		RecipientAccount: d.ToAccount,
		Amount:           d.Amount,
		Description:      d.Description,
		Number:           d.TransactionNumber,
	})
	if err != nil {
		g.count("inbound", string(apperr.CodeOf(err)))
		return nil, err
	}
	g.count("inbound", t.Status.String())
	g.log.Info().
		Str("number", t.Number).
		Str("from", t.Sender.String()).
		Str("to", t.Recipient.Number).
		Str("status", t.Status.String()).
		Msg("interbank deposit received")
	return t, nil
}

// Send debits the local account, then delivers the transfer to the remote
// bank under the same transaction number. If the remote bank does not accept
// it the debit is reversed by a refund numbered "<number>-refund" and
// ErrRemoteRejected is returned alongside the result.
func (g *Gateway) Send(ctx context.Context, out Outbound) (*SendResult, error) {
	base, ok := g.banks[out.ToBank]
	if !ok || out.ToBank == g.ledger.BankID() {
		g.count("outbound", "unknown_bank")
		return nil, ErrUnknownBank
	}
	// The refund number must still fit.
	if len(RefundNumber(out.Number)) > ledger.MaxTransactionNumberLen {
		return nil, fmt.Errorf("%w: transaction number too long", ledger.ErrMissingField)
	}

	t, err := g.ledger.RecordTransaction(ctx, ledger.TransferRequest{
		SenderBank:       g.ledger.BankID(),
		SenderAccount:    out.FromAccount,
		RecipientBank:    out.ToBank,
		RecipientAccount: out.ToAccount,
		Amount:           out.Amount,
		Description:      out.Description,
		Number:           out.Number,
	})
	if err != nil {
		return nil, err
	}
	res := &SendResult{Transaction: t}
	if !t.Succeeded() {
		g.count("outbound", t.Status.String())
		return res, nil
	}

	deliverErr := g.deliver(ctx, base, Deposit{
		TransactionNumber: t.Number,
		FromBank:          g.ledger.BankID(),
		FromAccount:       out.FromAccount,
		ToAccount:         out.ToAccount,
		Amount:            out.Amount,
		Description:       out.Description,
	})
	if deliverErr == nil {
		res.Delivered = true
		g.count("outbound", "delivered")
		return res, nil
	}

	g.log.Warn().Err(deliverErr).
		Str("number", t.Number).
		Str("bank", out.ToBank).
		Msg("interbank delivery failed, refunding")

	// The debit is already committed; the refund must not depend on the
	// caller still waiting.
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.client.Timeout)
	defer cancel()
	refund, err := g.refund(refundCtx, t)
	if err != nil {
		g.count("outbound", "refund_failed")
		g.log.Error().Err(err).Str("number", t.Number).Msg("interbank refund failed")
		return res, fmt.Errorf("refund %s: %w", t.Number, err)
	}
	res.Refund = refund
	if !refund.Succeeded() {
		g.count("outbound", "refund_not_booked")
		g.log.Error().
			Str("number", t.Number).
			Str("refund", refund.Number).
			Str("status", refund.Status.String()).
			Str("account", out.FromAccount).
			Str("amount", t.Amount.String()).
			Msg("interbank refund stored without crediting the sender")
		return res, ErrRefundNotBooked
	}
	g.count("outbound", "refunded")
	return res, ErrRemoteRejected
}

func (g *Gateway) refund(ctx context.Context, t *ledger.Transaction) (*ledger.Transaction, error) {
	number := RefundNumber(t.Number)
	refund, err := g.ledger.RecordTransaction(ctx, ledger.TransferRequest{
		SenderBank:       t.Recipient.Bank,
		SenderAccount:    t.Recipient.Number,
		RecipientBank:    t.Sender.Bank,
		RecipientAccount: t.Sender.Number,
		Amount:           t.Amount,
		Description:      "refund " + t.Number,
		Number:           number,
	})
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return g.ledger.GetTransaction(ctx, number)
	}
	return refund, err
}

func RefundNumber(number string) string { return number + "-refund" }

// remoteReply is the part of the remote bank's answer this bank reads.
type remoteReply struct {
	Status ledger.Status `json:"status"`
	Code   string        `json:"code"`
}

// deliver returns nil when the remote bank booked the deposit successfully,
// or already had it under the same number.
func (g *Gateway) deliver(ctx context.Context, base string, d Deposit) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+DepositPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bank-Id", d.FromBank)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("post deposit: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	var reply remoteReply
	_ = json.Unmarshal(data, &reply)

	switch {
	case resp.StatusCode == http.StatusConflict && reply.Code == string(apperr.CodeDuplicateTransaction):
		return nil
	case resp.StatusCode >= 300:
		return fmt.Errorf("remote answered %s: %s", resp.Status, strings.TrimSpace(string(data)))
	case reply.Status != ledger.StatusSuccess:
		return fmt.Errorf("remote booked the deposit as %q", reply.Status)
	}
	return nil
}

func (g *Gateway) count(direction, outcome string) {
	if g.metrics != nil {
		g.metrics.InterbankTransfers.WithLabelValues(direction, outcome).Inc()
	}
}
