package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CodesSent          prometheus.Counter
	SendFailures       prometheus.Counter
	VerifyFailures     *prometheus.CounterVec
	Logins             prometheus.Counter
	RegistrationRoutes prometheus.Counter
	ExchangeDuration   prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		CodesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ravegate_otp_codes_sent_total",
			Help: "Total number of OTP codes dispatched",
		}),
		SendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ravegate_otp_send_failures_total",
			Help: "Total number of failed OTP dispatch attempts",
		}),
		VerifyFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ravegate_otp_verify_failures_total",
			Help: "Total number of failed code confirmations by reason",
		}, []string{"reason"}),
		Logins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ravegate_logins_total",
			Help: "Total number of successful logins",
		}),
		RegistrationRoutes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ravegate_registration_routes_total",
			Help: "Total number of identities routed to registration",
		}),
		ExchangeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ravegate_credential_exchange_seconds",
			Help:    "Credential exchange duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncrementCodesSent() {
	m.CodesSent.Inc()
}

func (m *Metrics) IncrementSendFailures() {
	m.SendFailures.Inc()
}

func (m *Metrics) IncrementVerifyFailures(reason string) {
	m.VerifyFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementLogins() {
	m.Logins.Inc()
}

func (m *Metrics) IncrementRegistrationRoutes() {
	m.RegistrationRoutes.Inc()
}

func (m *Metrics) ObserveExchange(seconds float64) {
	m.ExchangeDuration.Observe(seconds)
}
