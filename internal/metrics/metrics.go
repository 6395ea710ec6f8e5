// Package metrics holds the Prometheus collectors for the API.
//
// Collectors register on the default registry through promauto and are
// exposed by the /metrics route.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairshot_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairshot_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pairshot_api_active_requests",
			Help: "Number of requests currently being served",
		},
	)

	// Store
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairshot_store_operation_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairshot_store_operation_errors_total",
			Help: "Total number of failed document store operations",
		},
		[]string{"operation", "collection"},
	)

	// Auth
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairshot_login_attempts_total",
			Help: "Login attempts by result (success, failure)",
		},
		[]string{"result"},
	)

	// Mail
	MailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairshot_mails_sent_total",
			Help: "Transactional mails by template and result (success, failure)",
		},
		[]string{"template", "result"},
	)

	// Uploads
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairshot_uploads_total",
			Help: "Image uploads by kind (portfolio, discussion) and result",
		},
		[]string{"kind", "result"},
	)

	ThumbnailDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pairshot_thumbnail_duration_seconds",
			Help:    "Time spent generating image derivatives",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordAPIRequest records one served request.
func RecordAPIRequest(method, endpoint, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest moves the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordStoreOperation records a document store call.
func RecordStoreOperation(operation, collection string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation, collection).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation, collection).Inc()
	}
}

func RecordLogin(ok bool) {
	LoginAttempts.WithLabelValues(result(ok)).Inc()
}

func RecordMail(template string, err error) {
	MailsSent.WithLabelValues(template, result(err == nil)).Inc()
}

func RecordUpload(kind string, err error) {
	UploadsTotal.WithLabelValues(kind, result(err == nil)).Inc()
}

func RecordThumbnail(duration time.Duration) {
	ThumbnailDuration.Observe(duration.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
