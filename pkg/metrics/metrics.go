package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RunsTotal counts finished inference runs by mode and outcome (success, warning, error, stale)
var RunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "layerinfer_runs_total",
		Help: "Total number of inference runs that reached a terminal state",
	},
	[]string{"mode", "outcome"},
)

// SubmissionsTotal counts ledger transactions submitted by mode and result
var SubmissionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "layerinfer_submissions_total",
		Help: "Total number of inference transactions submitted to the ledger",
	},
	[]string{"mode", "result"},
)

// ReceiptLatency records the time between submission and receipt
var ReceiptLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "layerinfer_receipt_latency_seconds",
		Help:    "Latency in seconds from transaction submission to receipt",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	},
	[]string{"mode"},
)

// StaleReceipts counts receipts discarded because a newer run had started
var StaleReceipts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "layerinfer_stale_receipts_total",
		Help: "Receipts discarded because their run generation was superseded",
	},
)

// ModelCacheRequests counts model metadata lookups by cache result (hit/miss)
var ModelCacheRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "layerinfer_model_cache_requests_total",
		Help: "Model metadata cache lookups",
	},
	[]string{"result"},
)

// EventsPublished counts run lifecycle events by backend and result
var EventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "layerinfer_events_published_total",
		Help: "Run lifecycle events published per backend",
	},
	[]string{"backend", "result"},
)

// WSClients tracks connected websocket clients
var WSClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "layerinfer_ws_clients",
		Help: "Number of connected websocket clients",
	},
)

// WSDropped counts messages dropped for slow websocket clients
var WSDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "layerinfer_ws_dropped_messages_total",
		Help: "Messages dropped because a websocket client could not keep up",
	},
)

// HTTP request metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layerinfer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layerinfer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "layerinfer_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "layerinfer_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal, SubmissionsTotal, ReceiptLatency, StaleReceipts)
	prometheus.MustRegister(ModelCacheRequests, EventsPublished, WSClients, WSDropped)
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration)
	prometheus.MustRegister(DBOpenConns, DBInUseConns)
}
