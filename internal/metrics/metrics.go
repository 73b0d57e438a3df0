package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Balance aggregation
	BalanceReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_balance_reads_total",
			Help: "Total number of balance aggregation cycles",
		},
		[]string{"chain", "result"},
	)

	BalanceReadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboard_balance_read_duration_seconds",
			Help:    "Balance aggregation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// Withdrawals
	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_withdrawals_total",
			Help: "Total number of withdrawal submissions",
		},
		[]string{"chain", "shape", "result"},
	)

	WithdrawalStageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_withdrawal_stage_errors_total",
			Help: "Withdrawal failures by state machine stage",
		},
		[]string{"chain", "stage"},
	)

	// Payment ledger queries
	LedgerPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_ledger_pages_total",
			Help: "Total number of ledger pages fetched",
		},
		[]string{"kind"}, // first, next, reload, csv
	)

	LedgerQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dashboard_ledger_query_duration_seconds",
			Help:    "Upstream ledger query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpdatePollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_update_polls_total",
			Help: "Total number of new-record polls",
		},
		[]string{"result"},
	)

	// Exchange rate cache
	RateCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_rate_cache_requests_total",
			Help: "Current exchange-rate cache requests",
		},
		[]string{"result"}, // hit, miss, error
	)

	// WebSocket push
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_websocket_connections",
		Help: "Number of connected dashboard websocket clients",
	})

	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_websocket_messages_sent_total",
			Help: "Total number of websocket messages pushed",
		},
		[]string{"type"},
	)

	// NATS IPN events
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	IPNEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_ipn_events_total",
			Help: "Total number of IPN result events received",
		},
		[]string{"result"},
	)
)
