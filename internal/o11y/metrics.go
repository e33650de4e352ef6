package o11y

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics are the booking and settlement counters. A nil *Metrics records nothing.
type Metrics struct {
	bookingsCreated     *prometheus.CounterVec
	bookingsCancelled   *prometheus.CounterVec
	settlements         *prometheus.CounterVec
	creditsSettled      prometheus.Counter
	commissionCollected prometheus.Counter
	eventsDropped       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carpool_booking_requests_total",
				Help: "Booking creation attempts by outcome",
			},
			[]string{"result"},
		),
		bookingsCancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carpool_booking_cancellations_total",
				Help: "Booking cancellation attempts by outcome",
			},
			[]string{"result"},
		),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carpool_settlements_total",
				Help: "Confirmation attempts by outcome, including idempotent replays",
			},
			[]string{"result"},
		),
		creditsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carpool_credits_settled_total",
			Help: "Net credits paid out to drivers",
		}),
		commissionCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carpool_commission_collected_total",
			Help: "Platform commission withheld at settlement",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carpool_events_dropped_total",
			Help: "Audit events and notifications that could not be published",
		}),
	}
	reg.MustRegister(m.bookingsCreated, m.bookingsCancelled, m.settlements,
		m.creditsSettled, m.commissionCollected, m.eventsDropped)
	return m
}

func (m *Metrics) BookingCreated(result string) {
	if m == nil {
		return
	}
	m.bookingsCreated.WithLabelValues(result).Inc()
}

func (m *Metrics) BookingCancelled(result string) {
	if m == nil {
		return
	}
	m.bookingsCancelled.WithLabelValues(result).Inc()
}

func (m *Metrics) Settlement(result string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(result).Inc()
}

// Settled records the money moved by one settlement.
func (m *Metrics) Settled(net, commission decimal.Decimal) {
	if m == nil {
		return
	}
	m.creditsSettled.Add(net.InexactFloat64())
	m.commissionCollected.Add(commission.InexactFloat64())
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
