package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/semanticallynull/carpool-backend/lifecycle"
	"github.com/semanticallynull/carpool-backend/ride"
)

type rideResponse struct {
	ID                    int64           `json:"id"`
	DriverID              int64           `json:"driverId"`
	VehicleID             int64           `json:"vehicleId"`
	Origin                string          `json:"origin"`
	Destination           string          `json:"destination"`
	DepartsAt             time.Time       `json:"departsAt"`
	SeatsOffered          int             `json:"seatsOffered"`
	PricePerSeat          decimal.Decimal `json:"pricePerSeat"`
	Status                ride.Status     `json:"status"`
	TotalNetCreditsEarned decimal.Decimal `json:"totalNetCreditsEarned"`
}

func toRideResponse(r ride.Ride) rideResponse {
	return rideResponse{
		ID:                    r.ID,
		DriverID:              r.DriverID,
		VehicleID:             r.VehicleID,
		Origin:                r.Origin,
		Destination:           r.Destination,
		DepartsAt:             r.DepartsAt,
		SeatsOffered:          r.SeatsOffered,
		PricePerSeat:          r.PricePerSeat,
		Status:                r.Status,
		TotalNetCreditsEarned: r.TotalNetCreditsEarned,
	}
}

type publishRideRequest struct {
	VehicleID    int64           `json:"vehicleId" binding:"required"`
	SeatsOffered int             `json:"seatsOffered" binding:"required"`
	PricePerSeat decimal.Decimal `json:"pricePerSeat"`
	Origin       string          `json:"origin" binding:"required"`
	Destination  string          `json:"destination" binding:"required"`
	DepartsAt    time.Time       `json:"departsAt"`
}

func (a *API) publishRideHandler(c *gin.Context) {
	var req publishRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	r, err := a.ls.PublishRide(c.Request.Context(), currentAccount(c).ID, lifecycle.PublishRequest{
		VehicleID:    req.VehicleID,
		SeatsOffered: req.SeatsOffered,
		PricePerSeat: req.PricePerSeat,
		Origin:       req.Origin,
		Destination:  req.Destination,
		DepartsAt:    req.DepartsAt,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "ride": toRideResponse(r)})
}

func (a *API) getRideHandler(c *gin.Context) {
	rideID, ok := paramID(c, "rideId")
	if !ok {
		return
	}

	r, err := a.rr.GetByID(c.Request.Context(), rideID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "ride": toRideResponse(r)})
}

type availabilityResponse struct {
	RideID         int64           `json:"rideId"`
	Status         ride.Status     `json:"status"`
	SeatsOffered   int             `json:"seatsOffered"`
	SeatsBooked    int             `json:"seatsBooked"`
	SeatsRemaining int             `json:"seatsRemaining"`
	PricePerSeat   decimal.Decimal `json:"pricePerSeat"`
}

// availabilityHandler reports a snapshot read without locks. It can be stale by the time the
// caller books; CreateBooking re-checks capacity under the ride lock.
func (a *API) availabilityHandler(c *gin.Context) {
	rideID, ok := paramID(c, "rideId")
	if !ok {
		return
	}

	r, err := a.rr.GetByID(c.Request.Context(), rideID)
	if err != nil {
		fail(c, err)
		return
	}
	booked, err := a.bkr.SeatsBooked(c.Request.Context(), rideID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "availability": availabilityResponse{
		RideID:         r.ID,
		Status:         r.Status,
		SeatsOffered:   r.SeatsOffered,
		SeatsBooked:    booked,
		SeatsRemaining: max(r.SeatsOffered-booked, 0),
		PricePerSeat:   r.PricePerSeat,
	}})
}

func (a *API) startRideHandler(c *gin.Context) {
	a.transitionRide(c, a.ls.StartRide)
}

func (a *API) finishRideHandler(c *gin.Context) {
	a.transitionRide(c, a.ls.FinishRide)
}

func (a *API) cancelRideHandler(c *gin.Context) {
	a.transitionRide(c, a.ls.CancelRide)
}

type rideTransition func(ctx context.Context, rideID, driverID int64) (ride.Ride, error)

func (a *API) transitionRide(c *gin.Context, transition rideTransition) {
	rideID, ok := paramID(c, "rideId")
	if !ok {
		return
	}

	r, err := transition(c.Request.Context(), rideID, currentAccount(c).ID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "ride": toRideResponse(r)})
}
