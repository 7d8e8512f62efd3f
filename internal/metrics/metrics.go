// Package metrics exposes Prometheus instrumentation for the daemon's
// core protocol packages (engine, channel, transport). Every method is
// safe to call on a nil *Metrics, so components can hold an optional
// metrics pointer without a parallel "is metrics enabled" branch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks DPA-transaction and transport-level Prometheus metrics.
// All metrics use the iqrfgd2_ prefix. Grounded on the teacher's per-
// component Metrics struct convention (internal/adapter/nlm/metrics.go),
// generalized from filesystem-operation counters to DPA-transaction
// counters.
type Metrics struct {
	// TransactionsTotal counts DpaEngine transactions by terminal error
	// code (spec.md §7's stable taxonomy, as a string label).
	TransactionsTotal *prometheus.CounterVec

	// TransactionDuration tracks admission-to-seal latency.
	TransactionDuration prometheus.Histogram

	// ExclusiveHoldDuration tracks how long an Exclusive AccessToken is
	// held before being dropped.
	ExclusiveHoldDuration prometheus.Histogram

	// ChannelRetriesTotal counts Channel vendor-busy retries.
	ChannelRetriesTotal prometheus.Counter

	// TransportMessagesTotal counts inbound/outbound messages per
	// transport (websocket/unixsocket/udp/mqtt) and direction.
	TransportMessagesTotal *prometheus.CounterVec

	// QueueDepth tracks each transport connection's outbound
	// BoundedSender queue depth.
	QueueDepth *prometheus.GaugeVec
}

// New creates and registers all metrics against reg. Panics if
// registration fails, matching the teacher's NewMetrics convention
// (expected only during initialization).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iqrfgd2_transactions_total",
				Help: "Total DPA transactions by terminal error code.",
			},
			[]string{"error_code"},
		),
		TransactionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "iqrfgd2_transaction_duration_seconds",
				Help:    "DPA transaction duration from admission to seal.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ExclusiveHoldDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "iqrfgd2_exclusive_hold_duration_seconds",
				Help:    "Duration an Exclusive AccessToken is held before being dropped.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ChannelRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "iqrfgd2_channel_vendor_busy_retries_total",
				Help: "Total Channel send retries due to vendor-busy signalling.",
			},
		),
		TransportMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iqrfgd2_transport_messages_total",
				Help: "Total messages by transport and direction.",
			},
			[]string{"transport", "direction"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iqrfgd2_transport_queue_depth",
				Help: "Current outbound send-queue depth per transport connection.",
			},
			[]string{"transport"},
		),
	}

	reg.MustRegister(
		m.TransactionsTotal,
		m.TransactionDuration,
		m.ExclusiveHoldDuration,
		m.ChannelRetriesTotal,
		m.TransportMessagesTotal,
		m.QueueDepth,
	)

	return m
}

// RecordTransaction records one sealed transaction's error code and
// duration. A nil receiver is a no-op.
func (m *Metrics) RecordTransaction(errorCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(errorCode).Inc()
	m.TransactionDuration.Observe(durationSeconds)
}

// RecordExclusiveHold records how long an Exclusive AccessToken was held.
func (m *Metrics) RecordExclusiveHold(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ExclusiveHoldDuration.Observe(durationSeconds)
}

// RecordChannelRetry records one vendor-busy retry on the Channel.
func (m *Metrics) RecordChannelRetry() {
	if m == nil {
		return
	}
	m.ChannelRetriesTotal.Inc()
}

// RecordTransportMessage records one message crossing transport in the
// given direction ("inbound" or "outbound").
func (m *Metrics) RecordTransportMessage(transport, direction string) {
	if m == nil {
		return
	}
	m.TransportMessagesTotal.WithLabelValues(transport, direction).Inc()
}

// SetQueueDepth updates the outbound queue-depth gauge for transport.
func (m *Metrics) SetQueueDepth(transport string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(transport).Set(float64(depth))
}

// Null returns nil, which acts as a no-op metrics collector: every
// Metrics method above handles a nil receiver gracefully.
func Null() *Metrics {
	return nil
}
