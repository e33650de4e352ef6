package mq

import (
	"strings"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/semanticallynull/carpool-backend/internal/events"
)

func TestMessage_Event(t *testing.T) {
	e := events.New(events.CreditsTransferred, 42).
		WithPassenger(7).WithDriver(3).WithAmount(decimal.RequireFromString("8.50"))

	msg, err := message(e.ID.String(), e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected message properties: %+v", msg)
	}
	if msg.MessageId != e.ID.String() {
		t.Errorf("expected message id %s, got %s", e.ID, msg.MessageId)
	}
	body := string(msg.Body)
	for _, want := range []string{`"type":"credits.transferred"`, `"rideId":42`, `"passengerId":7`, `"driverId":3`, `"amount":"8.5"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in %s", want, body)
		}
	}
}

func TestMessage_Notification(t *testing.T) {
	msg, err := message("", events.Notification{RecipientID: 9, RideID: 42, ConfirmationToken: "tok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"recipientUserId":9,"rideId":42,"confirmationToken":"tok"}`
	if string(msg.Body) != want {
		t.Errorf("expected %s, got %s", want, msg.Body)
	}
}

func TestMessage_OmitsEmptyFields(t *testing.T) {
	msg, err := message("", events.New(events.RideCompleted, 1).WithDriver(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := string(msg.Body)
	if strings.Contains(body, "passengerId") || strings.Contains(body, "amount") {
		t.Errorf("expected empty fields to be omitted: %s", body)
	}
}
