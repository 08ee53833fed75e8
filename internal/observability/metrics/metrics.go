package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	MessagesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_created_total",
			Help: "Messages committed to the ledger, by unlock condition mask.",
		},
		[]string{"mask"},
	)

	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment attempts by result.",
		},
		[]string{"result"},
	)

	MessagesReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_read_total",
			Help: "Read latches set.",
		},
	)

	MappingResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapping_resolutions_total",
			Help: "Short hash resolutions by the tier that answered.",
		},
		[]string{"tier"},
	)

	PreviewsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "previews_published_total",
			Help: "Preview records upserted.",
		},
	)

	OracleDecryptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_decryptions_total",
			Help: "Handles processed by the decryption oracle, by result.",
		},
		[]string{"result"},
	)

	BlobGatewayFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blob_gateway_fetches_total",
			Help: "Gateway fetch attempts by result.",
		},
		[]string{"result"},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authentication_attempts_total",
			Help: "Bearer token checks by scheme and result.",
		},
		[]string{"scheme", "result"},
	)

	BlobBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blob_bytes",
			Help:    "Sizes of blobs written to the content store.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		},
	)
)

var (
	mu      sync.RWMutex
	service = "unknown"
)

// Service returns the name used for the service label.
func Service() string {
	mu.RLock()
	defer mu.RUnlock()
	return service
}

func MustRegister(serviceName string) {
	mu.Lock()
	service = serviceName
	mu.Unlock()

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		MessagesCreatedTotal,
		PaymentsTotal,
		MessagesReadTotal,
		MappingResolutionsTotal,
		PreviewsPublishedTotal,
		OracleDecryptionsTotal,
		BlobGatewayFetchesTotal,
		AuthenticationAttemptsTotal,
		BlobBytes,
	)
}
