package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/semanticallynull/carpool-backend/booking"
)

type bookingResponse struct {
	ID          int64                 `json:"id"`
	RideID      int64                 `json:"rideId"`
	SeatsBooked int                   `json:"seatsBooked"`
	Status      booking.BookingStatus `json:"status"`
	TotalCost   decimal.Decimal       `json:"totalCost"`
	NetCredited *decimal.Decimal      `json:"netCredited,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	CancelledAt *time.Time            `json:"cancelledAt,omitempty"`
	SettledAt   *time.Time            `json:"settledAt,omitempty"`
}

func toBookingResponse(b booking.Booking) bookingResponse {
	resp := bookingResponse{
		ID:          b.ID,
		RideID:      b.RideID,
		SeatsBooked: b.SeatsBooked,
		Status:      b.Status,
		TotalCost:   b.TotalCost,
		CreatedAt:   b.CreatedAt,
	}
	if b.NetCredited.Valid {
		resp.NetCredited = &b.NetCredited.Decimal
	}
	if b.CancelledAt.Valid {
		resp.CancelledAt = &b.CancelledAt.Time
	}
	if b.SettledAt.Valid {
		resp.SettledAt = &b.SettledAt.Time
	}
	return resp
}

type createBookingRequest struct {
	RideID int64 `json:"rideId" binding:"required"`
	Seats  int   `json:"seats" binding:"required"`
}

func (a *API) createBookingHandler(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	b, err := a.bs.CreateBooking(c.Request.Context(), req.RideID, currentAccount(c).ID, req.Seats)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "booking": toBookingResponse(b)})
}

func (a *API) cancelBookingHandler(c *gin.Context) {
	bookingID, ok := paramID(c, "bookingId")
	if !ok {
		return
	}

	b, err := a.bs.CancelBooking(c.Request.Context(), bookingID, currentAccount(c).ID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "booking": toBookingResponse(b)})
}

func (a *API) confirmBookingHandler(c *gin.Context) {
	res, err := a.ss.ConfirmAndSettle(c.Request.Context(), c.Query("token"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"alreadyProcessed":  res.AlreadyProcessed,
		"netAmountCredited": res.NetAmount,
	})
}

func (a *API) getBookingsHandler(c *gin.Context) {
	var status *booking.BookingStatus
	if s := c.Query("status"); s != "" {
		bs := booking.BookingStatus(s)
		status = &bs
	}

	bookings, err := a.bkr.GetByUserID(c.Request.Context(), currentAccount(c).ID, status)
	if err != nil {
		fail(c, err)
		return
	}

	responses := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		responses = append(responses, toBookingResponse(b))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bookings": responses})
}
