// Package metrics exposes relay counters through Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jamroom"

// Drop reasons.
const (
	ReasonMalformed     = "malformed"
	ReasonUnknownType   = "unknown_type"
	ReasonUnknownTarget = "unknown_target"
	ReasonClosedTarget  = "closed_target"
	ReasonSpoofed       = "spoofed"
	ReasonPanic         = "panic"
	ReasonRateLimited   = "rate_limited"
)

// Delivery outcomes.
const (
	OutcomeSent         = "sent"
	OutcomeBackpressure = "backpressure"
	OutcomeClosed       = "closed"
	OutcomeError        = "error"
)

// Relay holds every collector the relay reports. The zero value is not usable; use New.
type Relay struct {
	Rooms        prometheus.Gauge
	Participants prometheus.Gauge
	Routed       *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	Deliveries   *prometheus.CounterVec
}

// New builds the collectors and registers them on r. A nil r skips registration.
func New(r prometheus.Registerer) *Relay {
	m := &Relay{
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one connected participant.",
		}),
		Participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_active",
			Help:      "Registered participants across all rooms.",
		}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_routed_total",
			Help:      "Envelopes accepted by the router, by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped before delivery, by reason.",
		}, []string{"reason"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient send attempts, by outcome.",
		}, []string{"outcome"}),
	}
	if r != nil {
		r.MustRegister(m.Rooms, m.Participants, m.Routed, m.Dropped, m.Deliveries)
	}
	return m
}

func (m *Relay) RoomOpened()         { m.Rooms.Inc() }
func (m *Relay) RoomClosed()         { m.Rooms.Dec() }
func (m *Relay) ParticipantAdded()   { m.Participants.Inc() }
func (m *Relay) ParticipantRemoved() { m.Participants.Dec() }

func (m *Relay) Drop(reason string) { m.Dropped.WithLabelValues(reason).Inc() }

func (m *Relay) Route(msgType string) { m.Routed.WithLabelValues(msgType).Inc() }

func (m *Relay) Deliver(outcome string) { m.Deliveries.WithLabelValues(outcome).Inc() }
