// Package events carries the observational side of settlement: audit/analytics events and
// passenger notifications. Delivery is best effort and never affects the outcome of the
// operation that produced them.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/semanticallynull/carpool-backend/internal/o11y"
)

type Type string

const (
	CreditsTransferred  Type = "credits.transferred"
	CommissionCollected Type = "commission.collected"
	RideCompleted       Type = "ride.completed"
)

type Event struct {
	ID          uuid.UUID        `json:"id"`
	Type        Type             `json:"type"`
	OccurredAt  time.Time        `json:"occurredAt"`
	RideID      int64            `json:"rideId"`
	PassengerID int64            `json:"passengerId,omitempty"`
	DriverID    int64            `json:"driverId,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

func New(t Type, rideID int64) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		RideID:     rideID,
	}
}

func (e Event) WithPassenger(id int64) Event {
	e.PassengerID = id
	return e
}

func (e Event) WithDriver(id int64) Event {
	e.DriverID = id
	return e
}

func (e Event) WithAmount(amount decimal.Decimal) Event {
	e.Amount = &amount
	return e
}

// Notification asks the dispatcher to send a passenger the link for confirming a ride.
type Notification struct {
	RecipientID       int64  `json:"recipientUserId"`
	RideID            int64  `json:"rideId"`
	ConfirmationToken string `json:"confirmationToken"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

const deliveryTimeout = 5 * time.Second

// Emitter hands events and notifications to their sinks on background goroutines.
type Emitter struct {
	publisher  Publisher
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *o11y.Metrics
	wg         sync.WaitGroup
}

func NewEmitter(publisher Publisher, dispatcher Dispatcher, logger *slog.Logger, metrics *o11y.Metrics) *Emitter {
	return &Emitter{
		publisher:  publisher,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// Emit publishes evts in the background. It returns immediately and outlives ctx's
// cancellation.
func (e *Emitter) Emit(ctx context.Context, evts ...Event) {
	if e == nil || e.publisher == nil || len(evts) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for _, evt := range evts {
			pctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
			err := e.publisher.Publish(pctx, evt)
			cancel()
			if err != nil {
				e.metrics.EventDropped()
				e.logger.ErrorContext(ctx, "failed to publish event",
					"eventId", evt.ID, "type", evt.Type, "rideId", evt.RideID, "error", err)
			}
		}
	}()
}

// Notify dispatches ns in the background, like Emit.
func (e *Emitter) Notify(ctx context.Context, ns ...Notification) {
	if e == nil || e.dispatcher == nil || len(ns) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for _, n := range ns {
			dctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
			err := e.dispatcher.Dispatch(dctx, n)
			cancel()
			if err != nil {
				e.metrics.EventDropped()
				e.logger.ErrorContext(ctx, "failed to dispatch notification",
					"recipientId", n.RecipientID, "rideId", n.RideID, "error", err)
			}
		}
	}()
}

// Wait blocks until every background delivery started so far has finished.
func (e *Emitter) Wait() {
	if e == nil {
		return
	}
	e.wg.Wait()
}

// LogSink writes events and notifications to the log instead of a broker. It is used when no
// broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, e Event) error {
	attrs := []any{"eventId", e.ID, "type", e.Type, "rideId", e.RideID}
	if e.PassengerID != 0 {
		attrs = append(attrs, "passengerId", e.PassengerID)
	}
	if e.DriverID != 0 {
		attrs = append(attrs, "driverId", e.DriverID)
	}
	if e.Amount != nil {
		attrs = append(attrs, "amount", e.Amount.String())
	}
	s.Logger.InfoContext(ctx, "event", attrs...)
	return nil
}

func (s LogSink) Dispatch(ctx context.Context, n Notification) error {
	s.Logger.InfoContext(ctx, "confirmation notification", "recipientId", n.RecipientID, "rideId", n.RideID)
	return nil
}
