package gateway

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	aigosRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigos_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	aigosRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aigos_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	aigosCertificatesIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigos_certificates_issued_total",
		Help: "Certificates issued by level.",
	}, []string{"level"})

	aigosTokensMintedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aigos_tokens_minted_total",
		Help: "A2A tokens minted.",
	})

	aigosTokenVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigos_token_verifications_total",
		Help: "Token verifications by resulting status.",
	}, []string{"status"})

	aigosTrustDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigos_trust_decisions_total",
		Help: "Trust evaluations by outcome.",
	}, []string{"outcome"})

	aigosSpawnValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigos_spawn_validations_total",
		Help: "Spawn validations by outcome.",
	}, []string{"outcome"})

	aigosSelectorCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aigos_policy_selector_cache_entries",
		Help: "Entries resident in the policy selection cache.",
	})
)

// PrometheusMiddleware records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		aigosRequestsTotal.WithLabelValues(method, path, status).Inc()
		aigosRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func recordCertificateIssued(level string) {
	aigosCertificatesIssuedTotal.WithLabelValues(level).Inc()
}

func recordTokenMinted() {
	aigosTokensMintedTotal.Inc()
}

func recordTokenVerification(status string) {
	aigosTokenVerificationsTotal.WithLabelValues(status).Inc()
}

func recordTrustDecision(trusted bool) {
	if trusted {
		aigosTrustDecisionsTotal.WithLabelValues("trusted").Inc()
	} else {
		aigosTrustDecisionsTotal.WithLabelValues("denied").Inc()
	}
}

func recordSpawnValidation(valid bool) {
	if valid {
		aigosSpawnValidationsTotal.WithLabelValues("valid").Inc()
	} else {
		aigosSpawnValidationsTotal.WithLabelValues("invalid").Inc()
	}
}
