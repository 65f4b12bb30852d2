package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics is safe to use through a nil pointer, which disables recording.
type metrics struct {
	registry *prometheus.Registry

	messagesReceived  *prometheus.CounterVec
	messagesSent      *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	openChannels      prometheus.Gauge
	participants      prometheus.Gauge
	round             prometheus.Gauge
	resultsCalculated prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),

		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blindtasting_messages_received_total",
				Help: "Inbound protocol messages by type",
			},
			[]string{"type"},
		),
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blindtasting_messages_sent_total",
				Help: "Outbound protocol messages by type",
			},
			[]string{"type"},
		),
		messagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blindtasting_messages_dropped_total",
				Help: "Messages dropped without delivery, by reason",
			},
			[]string{"reason"},
		),
		openChannels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blindtasting_open_channels",
				Help: "Currently open peer channels",
			},
		),
		participants: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blindtasting_participants",
				Help: "Participants in the roster, connected or not",
			},
		),
		round: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blindtasting_round",
				Help: "Current event status as an ordinal (1 = waiting, 5 = results)",
			},
		),
		resultsCalculated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "blindtasting_results_calculated_total",
				Help: "Number of times results were calculated and sent",
			},
		),
	}

	m.registry.MustRegister(
		m.messagesReceived,
		m.messagesSent,
		m.messagesDropped,
		m.openChannels,
		m.participants,
		m.round,
		m.resultsCalculated,
	)

	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) received(t MessageType) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(string(t)).Inc()
}

func (m *metrics) sent(t MessageType) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(string(t)).Inc()
}

func (m *metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}

func (m *metrics) setChannels(n int) {
	if m == nil {
		return
	}
	m.openChannels.Set(float64(n))
}

func (m *metrics) setParticipants(n int) {
	if m == nil {
		return
	}
	m.participants.Set(float64(n))
}

func (m *metrics) setRound(s Status) {
	if m == nil {
		return
	}
	m.round.Set(float64(s.Ordinal()))
}

func (m *metrics) resultsSent() {
	if m == nil {
		return
	}
	m.resultsCalculated.Inc()
}
