// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Receive paths, used as the "path" label.
const (
	pathListener = "listener"
	pathDrain    = "drain"
	pathReceive  = "receive"
)

// Metrics holds the runtime's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	sent             *prometheus.CounterVec
	sendFailures     *prometheus.CounterVec
	received         *prometheus.CounterVec
	framed           prometheus.Counter
	endpointsCreated *prometheus.CounterVec
	tokenFetches     *prometheus.CounterVec
	inboxEvents      prometheus.Gauge
	inboxDrops       prometheus.Counter
	listenerErrors   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer creates unregistered collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "messages_sent_total",
			Help:      "Messages sent, by binding.",
		}, []string{"binding"}),
		sendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "send_failures_total",
			Help:      "Sends that failed in the transport, by binding.",
		}, []string{"binding"}),
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "messages_received_total",
			Help:      "Messages received and decoded, by binding and receive path.",
		}, []string{"binding", "path"}),
		framed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "framed_payloads_total",
			Help:      "Received bodies that carried the AMQP value-section header.",
		}),
		endpointsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "endpoints_created_total",
			Help:      "Endpoint handles created, by binding.",
		}, []string{"binding"}),
		tokenFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "token_fetches_total",
			Help:      "Token requests, by result (success or failure).",
		}, []string{"result"}),
		inboxEvents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventmesh",
			Name:      "inbox_events",
			Help:      "Events currently buffered in the inbox.",
		}),
		inboxDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "inbox_dropped_total",
			Help:      "Events discarded because the inbox was full.",
		}),
		listenerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "listener_errors_total",
			Help:      "Errors reported by listeners, by binding.",
		}, []string{"binding"}),
	}
}

func (m *Metrics) messageSent(binding string) {
	if m != nil {
		m.sent.WithLabelValues(binding).Inc()
	}
}

func (m *Metrics) sendFailed(binding string) {
	if m != nil {
		m.sendFailures.WithLabelValues(binding).Inc()
	}
}

func (m *Metrics) messageReceived(binding, path string, framed bool) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(binding, path).Inc()
	if framed {
		m.framed.Inc()
	}
}

func (m *Metrics) endpointCreated(binding string) {
	if m != nil {
		m.endpointsCreated.WithLabelValues(binding).Inc()
	}
}

func (m *Metrics) tokenFetched(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.tokenFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) inboxSize(size int) {
	if m != nil {
		m.inboxEvents.Set(float64(size))
	}
}

func (m *Metrics) inboxDropped() {
	if m != nil {
		m.inboxDrops.Inc()
	}
}

func (m *Metrics) listenerError(binding string) {
	if m != nil {
		m.listenerErrors.WithLabelValues(binding).Inc()
	}
}
