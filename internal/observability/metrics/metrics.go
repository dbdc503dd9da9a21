package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics captures request-level signals exposed on /metrics.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return newHTTPMetrics(prometheus.DefaultRegisterer)
}

func newHTTPMetrics(registerer prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lumen_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	registerer.MustRegister(m.requests, m.duration)
	return m
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// MeteringMetrics counts charge outcomes and debit sizes.
type MeteringMetrics struct {
	charges      *prometheus.CounterVec
	debitTokens  prometheus.Histogram
	pendingQueue prometheus.Counter
}

const (
	ChargeOutcomeSuccess      = "success"
	ChargeOutcomeDuplicate    = "duplicate"
	ChargeOutcomeInsufficient = "insufficient_balance"
	ChargeOutcomeProvider     = "provider_failure"
	ChargeOutcomeLedger       = "ledger_write_failed"
)

func NewMeteringMetrics() *MeteringMetrics {
	return newMeteringMetrics(prometheus.DefaultRegisterer)
}

func newMeteringMetrics(registerer prometheus.Registerer) *MeteringMetrics {
	m := &MeteringMetrics{
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_charges_total",
			Help: "Charge attempts by action kind and outcome.",
		}, []string{"action", "outcome"}),
		debitTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lumen_debit_tokens",
			Help:    "Token debit applied per successful charge.",
			Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 25000},
		}),
		pendingQueue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumen_pending_debits_enqueued_total",
			Help: "Debits parked for reconciliation after a ledger write failure.",
		}),
	}
	registerer.MustRegister(m.charges, m.debitTokens, m.pendingQueue)
	return m
}

func (m *MeteringMetrics) IncCharge(action, outcome string) {
	if m == nil {
		return
	}
	m.charges.WithLabelValues(strings.TrimSpace(action), outcome).Inc()
}

func (m *MeteringMetrics) ObserveDebit(tokens int64) {
	if m == nil {
		return
	}
	m.debitTokens.Observe(float64(tokens))
}

func (m *MeteringMetrics) IncPendingDebit() {
	if m == nil {
		return
	}
	m.pendingQueue.Inc()
}

// NotificationMetrics counts dispatch outcomes per channel.
type NotificationMetrics struct {
	dispatches *prometheus.CounterVec
}

func NewNotificationMetrics() *NotificationMetrics {
	return newNotificationMetrics(prometheus.DefaultRegisterer)
}

func newNotificationMetrics(registerer prometheus.Registerer) *NotificationMetrics {
	m := &NotificationMetrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumen_notifications_total",
			Help: "Insight notifications by channel and status.",
		}, []string{"channel", "status"}),
	}
	registerer.MustRegister(m.dispatches)
	return m
}

func (m *NotificationMetrics) IncDispatch(channel, status string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(strings.TrimSpace(channel), status).Inc()
}
