package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SimBank.
// Every component accepts a nil *Metrics and skips recording.
type Metrics struct {
	// --- Ledger ---
	TransactionsRecorded  *prometheus.CounterVec
	TransactionDuration   prometheus.Histogram
	DuplicateTransactions *prometheus.CounterVec
	KnownNumbersSize      prometheus.Gauge
	KnownNumbersEvictions prometheus.Counter

	// --- Loans ---
	LoansOriginated   prometheus.Counter
	LoansRejected     *prometheus.CounterVec
	LoanRepayments    *prometheus.CounterVec
	InterestCollected prometheus.Counter
	LoanWriteOffs     prometheus.Counter

	// --- Daily cycle ---
	DailyCycleDuration prometheus.Histogram
	DailyCycleSkipped  prometheus.Counter
	SweepAttempts      *prometheus.CounterVec

	// --- Clock ---
	ClockDriftSeconds   prometheus.Gauge
	ClockResyncFailures prometheus.Counter

	// --- Interbank ---
	InterbankTransfers *prometheus.CounterVec

	// --- Notifications ---
	NotificationsSent  *prometheus.CounterVec
	NotificationDrops  prometheus.Counter
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Passing nil registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	storeBuckets := []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	return &Metrics{
		TransactionsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simbank_transactions_recorded_total",
			Help: "Transactions written to the ledger, by status",
		}, []string{"status"}),

		TransactionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "simbank_transaction_record_duration_seconds",
			Help:    "Time to record a transaction including the store unit",
			Buckets: storeBuckets,
		}),

		DuplicateTransactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simbank_duplicate_transactions_total",
			Help: "Transaction numbers rejected as duplicates, by detection tier",
		}, []string{"tier"}),

		KnownNumbersSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "simbank_known_numbers_lru_size",
			Help: "Transaction numbers held in the duplicate-detection LRU",
		}),

		KnownNumbersEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "simbank_known_numbers_lru_evictions_total",
			Help: "Evictions from the duplicate-detection LRU",
		}),

		LoansOriginated: f.NewCounter(prometheus.CounterOpts{
			Name: "simbank_loans_originated_total",
			Help: "Loans disbursed",
		}),

		LoansRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simbank_loans_rejected_total",
			Help: "Loan originations rejected, by error code",
		}, []string{"code"}),

		LoanRepayments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simbank_loan_repayments_total",
			Help: "Loan repayments recorded, by source",
		}, []string{"source"}),

		InterestCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "simbank_interest_collected_minor_units_total",
			Help: "Interest collected, in minor currency units",
		}),

		LoanWriteOffs: f.NewCounter(prometheus.CounterOpts{
			Name: "simbank_loan_write_offs_total",
			Help: "Loans written off after an uncollectable interest charge",
		}),

		DailyCycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "simbank_daily_cycle_duration_seconds",
			Help:    "Duration of interest charge plus instalment sweep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),

		DailyCycleSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "simbank_daily_cycle_skipped_total",
			Help: "Day boundaries skipped because a previous cycle still held the guard",
		}),

		SweepAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simbank_sweep_attempts_total",
			Help: "Instalment sweep decisions per account, by outcome",
		}, []string{"outcome"}),

		ClockDriftSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "simbank_clock_drift_seconds",
			Help: "Authority minus local simulated time at the last resync",
		}),

		ClockResyncFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "simbank_clock_resync_failures_total",
			Help: "Failed attempts to reach the time authority",
		}),

		InterbankTransfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simbank_interbank_transfers_total",
			Help: "Interbank transfers, by direction and outcome",
		}, []string{"direction", "outcome"}),

		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simbank_notifications_total",
			Help: "Outbound notifications, by channel and outcome",
		}, []string{"channel", "outcome"}),

		NotificationDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "simbank_notification_drops_total",
			Help: "Notifications dropped due to a full queue",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simbank_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simbank_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "simbank_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simbank_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simbank_http_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: storeBuckets,
		}, []string{"route"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
