package acceptance

import (
	"context"
	"errors"
	"testing"

	"github.com/semanticallynull/carpool-backend/booking"
	"github.com/semanticallynull/carpool-backend/lifecycle"
	"github.com/semanticallynull/carpool-backend/ride"
	"github.com/semanticallynull/carpool-backend/vehicle"
)

func TestPublishRide_Validation(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()
	driver := ts.CreateAccount(t, "driver", "0")
	other := ts.CreateAccount(t, "other", "0")

	v := vehicle.Vehicle{OwnerID: driver.ID, Label: "AB-123-CD", Seats: 3}
	if err := ts.VehicleRepo.Create(ctx, &v); err != nil {
		t.Fatalf("failed to create vehicle: %v", err)
	}

	tests := []struct {
		name    string
		driver  int64
		req     lifecycle.PublishRequest
		wantErr error
	}{
		{"no seats", driver.ID, lifecycle.PublishRequest{VehicleID: v.ID, SeatsOffered: 0, PricePerSeat: d("5")}, lifecycle.ErrInvalidRide},
		{"more seats than vehicle", driver.ID, lifecycle.PublishRequest{VehicleID: v.ID, SeatsOffered: 4, PricePerSeat: d("5")}, lifecycle.ErrInvalidRide},
		{"below commission", driver.ID, lifecycle.PublishRequest{VehicleID: v.ID, SeatsOffered: 1, PricePerSeat: d("1.99")}, lifecycle.ErrInvalidRide},
		{"someone else's vehicle", other.ID, lifecycle.PublishRequest{VehicleID: v.ID, SeatsOffered: 1, PricePerSeat: d("5")}, vehicle.ErrNotOwner},
		{"unknown vehicle", driver.ID, lifecycle.PublishRequest{VehicleID: v.ID + 1000, SeatsOffered: 1, PricePerSeat: d("5")}, vehicle.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Lifecycle.PublishRide(ctx, tt.driver, tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	r, err := ts.Lifecycle.PublishRide(ctx, driver.ID, lifecycle.PublishRequest{VehicleID: v.ID, SeatsOffered: 3, PricePerSeat: d("2")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != ride.StatusPublished || r.ID == 0 || r.DepartsAt.IsZero() {
		t.Errorf("unexpected ride:\n%s", dump(r))
	}
}

func TestRideLifecycle_OnlyDriverAndForwardOnly(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()
	driver := ts.CreateAccount(t, "driver", "0")
	stranger := ts.CreateAccount(t, "stranger", "0")
	r := ts.PublishRide(t, driver, 2, "5")

	if _, err := ts.Lifecycle.StartRide(ctx, r.ID, stranger.ID); !errors.Is(err, lifecycle.ErrNotDriver) {
		t.Errorf("expected ErrNotDriver, got %v", err)
	}
	if _, err := ts.Lifecycle.FinishRide(ctx, r.ID, driver.ID); !errors.Is(err, lifecycle.ErrInvalidState) {
		t.Errorf("finishing a ride that never started: expected ErrInvalidState, got %v", err)
	}
	if _, err := ts.Lifecycle.StartRide(ctx, r.ID, driver.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ts.Lifecycle.StartRide(ctx, r.ID, driver.ID); !errors.Is(err, lifecycle.ErrInvalidState) {
		t.Errorf("starting twice: expected ErrInvalidState, got %v", err)
	}
	if _, err := ts.Lifecycle.StartRide(ctx, r.ID+1000, driver.ID); !errors.Is(err, ride.ErrNotFound) {
		t.Errorf("unknown ride: expected ride.ErrNotFound, got %v", err)
	}
}

func TestFinishRide_WithoutBookingsCompletes(t *testing.T) {
	ts := NewTestServer(t)
	driver := ts.CreateAccount(t, "driver", "0")
	r := ts.PublishRide(t, driver, 2, "5")

	tokens := ts.CompleteRide(t, r)
	if len(tokens) != 0 {
		t.Errorf("expected no tokens, got %v", tokens)
	}
	if got := ts.Ride(t, r.ID).Status; got != ride.StatusCompleted {
		t.Errorf("expected ride completed, got %s", got)
	}
}

func TestFinishRide_MintsDistinctTokens(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()
	driver := ts.CreateAccount(t, "driver", "0")
	r := ts.PublishRide(t, driver, 3, "5")

	var ids []int64
	for _, sub := range []string{"p1", "p2", "p3"} {
		p := ts.CreateAccount(t, sub, "5")
		b, err := ts.Bookings.CreateBooking(ctx, r.ID, p.ID, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, b.ID)
	}

	tokens := ts.CompleteRide(t, r)
	seen := map[string]bool{}
	for _, id := range ids {
		token := tokens[id]
		if len(token) < 40 || seen[token] {
			t.Errorf("booking %d: expected a fresh unguessable token, got %q", id, token)
		}
		seen[token] = true
		if got := ts.Booking(t, id).Status; got != booking.StatusConfirmedPendingPassengerConfirmation {
			t.Errorf("booking %d: expected awaiting confirmation, got %s", id, got)
		}
	}

	ts.Emitter.Wait()
	if n := len(ts.Sink.Notifications()); n != 3 {
		t.Errorf("expected 3 notifications, got %d", n)
	}
}

func TestCancelRide_RefundsEveryBooking(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()
	driver := ts.CreateAccount(t, "driver", "0")
	a := ts.CreateAccount(t, "a", "20")
	b := ts.CreateAccount(t, "b", "20")
	r := ts.PublishRide(t, driver, 3, "7.50")

	ba, err := ts.Bookings.CreateBooking(ctx, r.ID, a.ID, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ts.Bookings.CreateBooking(ctx, r.ID, b.ID, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ts.Lifecycle.StartRide(ctx, r.ID, driver.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancelled, err := ts.Lifecycle.CancelRide(ctx, r.ID, driver.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != ride.StatusCancelled {
		t.Errorf("expected ride cancelled, got %s", cancelled.Status)
	}
	assertBalance(t, ts, a, "20")
	assertBalance(t, ts, b, "20")
	if got := ts.Booking(t, ba.ID).Status; got != booking.StatusCancelled {
		t.Errorf("expected booking cancelled, got %s", got)
	}

	if _, err := ts.Lifecycle.CancelRide(ctx, r.ID, driver.ID); !errors.Is(err, lifecycle.ErrInvalidState) {
		t.Errorf("cancelling twice: expected ErrInvalidState, got %v", err)
	}
}
