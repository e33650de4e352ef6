package acceptance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/semanticallynull/carpool-backend/booking"
	"github.com/semanticallynull/carpool-backend/ride"
)

func TestCreateBooking_DebitsPassenger(t *testing.T) {
	ts := NewTestServer(t)
	driver := ts.CreateAccount(t, "driver", "0")
	passenger := ts.CreateAccount(t, "passenger", "50")
	r := ts.PublishRide(t, driver, 3, "12.50")

	b, err := ts.Bookings.CreateBooking(context.Background(), r.ID, passenger.ID, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Status != booking.StatusConfirmed || b.SeatsBooked != 2 || !b.TotalCost.Equal(d("25")) {
		t.Errorf("unexpected booking:\n%s", dump(b))
	}
	assertBalance(t, ts, passenger, "25")
}

func TestCreateBooking_Rejections(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()
	driver := ts.CreateAccount(t, "driver", "0")
	passenger := ts.CreateAccount(t, "passenger", "100")
	r := ts.PublishRide(t, driver, 2, "10")

	if _, err := ts.Bookings.CreateBooking(ctx, r.ID, passenger.ID, 0); !errors.Is(err, booking.ErrInvalidSeats) {
		t.Errorf("zero seats: expected ErrInvalidSeats, got %v", err)
	}
	if _, err := ts.Bookings.CreateBooking(ctx, r.ID+1000, passenger.ID, 1); !errors.Is(err, booking.ErrRideNotBookable) {
		t.Errorf("unknown ride: expected ErrRideNotBookable, got %v", err)
	}
	if _, err := ts.Bookings.CreateBooking(ctx, r.ID, driver.ID, 1); !errors.Is(err, booking.ErrRideNotBookable) {
		t.Errorf("own ride: expected ErrRideNotBookable, got %v", err)
	}
	if _, err := ts.Bookings.CreateBooking(ctx, r.ID, passenger.ID, 3); !errors.Is(err, booking.ErrSeatsUnavailable) {
		t.Errorf("too many seats: expected ErrSeatsUnavailable, got %v", err)
	}

	if _, err := ts.Bookings.CreateBooking(ctx, r.ID, passenger.ID, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ts.Bookings.CreateBooking(ctx, r.ID, passenger.ID, 1); !errors.Is(err, booking.ErrAlreadyBooked) {
		t.Errorf("second booking: expected ErrAlreadyBooked, got %v", err)
	}
	assertBalance(t, ts, passenger, "90")

	if _, err := ts.Lifecycle.StartRide(ctx, r.ID, driver.ID); err != nil {
		t.Fatalf("failed to start ride: %v", err)
	}
	late := ts.CreateAccount(t, "late", "100")
	if _, err := ts.Bookings.CreateBooking(ctx, r.ID, late.ID, 1); !errors.Is(err, booking.ErrRideNotBookable) {
		t.Errorf("started ride: expected ErrRideNotBookable, got %v", err)
	}
	assertBalance(t, ts, late, "100")
}

func TestCreateBooking_InsufficientCreditsLeavesBalance(t *testing.T) {
	ts := NewTestServer(t)
	driver := ts.CreateAccount(t, "driver", "0")
	passenger := ts.CreateAccount(t, "passenger", "19.99")
	r := ts.PublishRide(t, driver, 4, "10")

	_, err := ts.Bookings.CreateBooking(context.Background(), r.ID, passenger.ID, 2)
	if !errors.Is(err, booking.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	assertBalance(t, ts, passenger, "19.99")

	seats, err := ts.BookingRepo.SeatsBooked(context.Background(), r.ID)
	if err != nil || seats != 0 {
		t.Errorf("expected no seats held, got %d (%v)", seats, err)
	}
}

func TestCreateBooking_NoOversellUnderConcurrency(t *testing.T) {
	ts := NewTestServer(t)
	driver := ts.CreateAccount(t, "driver", "0")
	const seats, passengers = 3, 12
	r := ts.PublishRide(t, driver, seats, "5")

	ids := make([]int64, passengers)
	for i := range ids {
		ids[i] = ts.CreateAccount(t, fmt.Sprintf("passenger-%d", i), "5").ID
	}

	var wg sync.WaitGroup
	errs := make([]error, passengers)
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = ts.Bookings.CreateBooking(context.Background(), r.ID, id, 1)
		}()
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, booking.ErrSeatsUnavailable):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != seats || full != passengers-seats {
		t.Errorf("expected %d bookings and %d rejections, got %d and %d", seats, passengers-seats, ok, full)
	}

	booked, err := ts.BookingRepo.SeatsBooked(context.Background(), r.ID)
	if err != nil || booked != seats {
		t.Errorf("expected %d seats booked, got %d (%v)", seats, booked, err)
	}

	var total string
	if err := ts.DB.Get(&total, `SELECT SUM(credits)::text FROM accounts WHERE id = ANY($1)`, ids); err != nil {
		t.Fatalf("failed to sum balances: %v", err)
	}
	if want := d("5").Mul(d(fmt.Sprint(passengers - seats))); !d(total).Equal(want) {
		t.Errorf("expected passengers to hold %s credits in total, got %s", want, total)
	}
}

func TestCreateBooking_NoNegativeBalanceUnderConcurrency(t *testing.T) {
	ts := NewTestServer(t)
	passenger := ts.CreateAccount(t, "passenger", "10")

	var rides []ride.Ride
	for i := 0; i < 5; i++ {
		driver := ts.CreateAccount(t, fmt.Sprintf("driver-%d", i), "0")
		rides = append(rides, ts.PublishRide(t, driver, 2, "4"))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(rides))
	for i, r := range rides {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = ts.Bookings.CreateBooking(context.Background(), r.ID, passenger.ID, 1)
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, booking.ErrInsufficientCredits):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 2 {
		t.Errorf("expected exactly 2 affordable bookings, got %d", ok)
	}
	assertBalance(t, ts, passenger, "2")
}

func TestCancelBooking_RefundsAndFreesSeat(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()
	driver := ts.CreateAccount(t, "driver", "0")
	passenger := ts.CreateAccount(t, "passenger", "10")
	other := ts.CreateAccount(t, "other", "10")
	r := ts.PublishRide(t, driver, 1, "10")

	b, err := ts.Bookings.CreateBooking(ctx, r.ID, passenger.ID, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ts.Bookings.CancelBooking(ctx, b.ID, other.ID); !errors.Is(err, booking.ErrForbidden) {
		t.Errorf("stranger: expected ErrForbidden, got %v", err)
	}
	if _, err := ts.Bookings.CancelBooking(ctx, b.ID+1000, passenger.ID); !errors.Is(err, booking.ErrNotFound) {
		t.Errorf("unknown booking: expected ErrNotFound, got %v", err)
	}

	cancelled, err := ts.Bookings.CancelBooking(ctx, b.ID, passenger.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != booking.StatusCancelled || !cancelled.CancelledAt.Valid {
		t.Errorf("unexpected booking:\n%s", dump(cancelled))
	}
	assertBalance(t, ts, passenger, "10")

	if _, err := ts.Bookings.CancelBooking(ctx, b.ID, passenger.ID); !errors.Is(err, booking.ErrInvalidState) {
		t.Errorf("second cancel: expected ErrInvalidState, got %v", err)
	}
	assertBalance(t, ts, passenger, "10")

	if _, err := ts.Bookings.CreateBooking(ctx, r.ID, other.ID, 1); err != nil {
		t.Errorf("expected freed seat to be bookable, got %v", err)
	}
	if _, err := ts.Bookings.CreateBooking(ctx, r.ID, passenger.ID, 1); !errors.Is(err, booking.ErrSeatsUnavailable) {
		t.Errorf("rebooking a full ride: expected ErrSeatsUnavailable, got %v", err)
	}
}

func TestCancelBooking_DriverMayCancel(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()
	driver := ts.CreateAccount(t, "driver", "0")
	passenger := ts.CreateAccount(t, "passenger", "10")
	r := ts.PublishRide(t, driver, 2, "3")

	b, err := ts.Bookings.CreateBooking(ctx, r.ID, passenger.ID, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ts.Bookings.CancelBooking(ctx, b.ID, driver.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertBalance(t, ts, passenger, "10")
}
