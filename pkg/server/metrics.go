package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the relay. Each server owns
// its own registry so multiple instances (tests) never collide on
// registration.
type Metrics struct {
	registry *prometheus.Registry

	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	authSuccessTotal  prometheus.Counter
	authFailureTotal  prometheus.Counter
	messagesReceived  prometheus.Counter
	messagesSent      prometheus.Counter
	broadcastsTotal   prometheus.Counter
	sendFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers the relay's collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Number of currently registered client connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total accepted transport connections.",
		}),
		authSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_auth_success_total",
			Help: "Total successful authentications.",
		}),
		authFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_auth_failure_total",
			Help: "Total rejected authentication exchanges.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Total chat payloads received from clients.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_sent_total",
			Help: "Total individual sends attempted successfully on the broadcast path.",
		}),
		broadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Total broadcast operations.",
		}),
		sendFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_send_failures_total",
			Help: "Total per-recipient send failures during broadcast.",
		}),
	}

	m.registry.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.authSuccessTotal,
		m.authFailureTotal,
		m.messagesReceived,
		m.messagesSent,
		m.broadcastsTotal,
		m.sendFailuresTotal,
	)

	return m
}

// Handler returns the scrape endpoint handler for this server's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordConnection()             { m.connectionsTotal.Inc() }
func (m *Metrics) RecordActiveConnections(n int) { m.activeConnections.Set(float64(n)) }
func (m *Metrics) RecordAuthSuccess()            { m.authSuccessTotal.Inc() }
func (m *Metrics) RecordAuthFailure()            { m.authFailureTotal.Inc() }
func (m *Metrics) RecordMessageReceived()        { m.messagesReceived.Inc() }
func (m *Metrics) RecordMessageSent()            { m.messagesSent.Inc() }
func (m *Metrics) RecordBroadcast()              { m.broadcastsTotal.Inc() }
func (m *Metrics) RecordSendFailure()            { m.sendFailuresTotal.Inc() }
