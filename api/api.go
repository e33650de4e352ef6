// Package api exposes the booking, settlement and ride lifecycle services over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/semanticallynull/carpool-backend/account"
	"github.com/semanticallynull/carpool-backend/booking"
	"github.com/semanticallynull/carpool-backend/internal/auth0"
	"github.com/semanticallynull/carpool-backend/internal/middleware"
	"github.com/semanticallynull/carpool-backend/internal/pg"
	"github.com/semanticallynull/carpool-backend/lifecycle"
	"github.com/semanticallynull/carpool-backend/ride"
	"github.com/semanticallynull/carpool-backend/settlement"
	"github.com/semanticallynull/carpool-backend/vehicle"
)

// Deps are the collaborators the HTTP layer is built from. Auth authenticates the caller and
// must leave the subject in the context (middleware.JWT or middleware.HeaderAuth). Idempotency
// and Profiles are optional.
type Deps struct {
	Bookings   *booking.Service
	Settlement *settlement.Service
	Lifecycle  *lifecycle.Service

	BookingRepo *booking.Repository
	Rides       *ride.Repository
	Vehicles    *vehicle.Repository
	Accounts    *account.Repository

	Auth        gin.HandlersChain
	Profiles    auth0.Client
	SignupGrant decimal.Decimal
	Idempotency middleware.IdempotencyStore

	Logger   *slog.Logger
	Registry *prometheus.Registry

	MetricsUsername string
	MetricsPassword string
}

type API struct {
	r *gin.Engine

	bs  *booking.Service
	ss  *settlement.Service
	ls  *lifecycle.Service
	bkr *booking.Repository
	rr  *ride.Repository
	vr  *vehicle.Repository
}

func New(d Deps) *API {
	a := &API{
		r:   gin.New(),
		bs:  d.Bookings,
		ss:  d.Settlement,
		ls:  d.Lifecycle,
		bkr: d.BookingRepo,
		rr:  d.Rides,
		vr:  d.Vehicles,
	}

	// Handlers that pass c as a context.Context still see the request span.
	a.r.ContextWithFallback = true

	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	a.r.Use(
		gin.Recovery(),
		middleware.Tracing("carpool-api"),
		middleware.Logging(d.Logger),
		middleware.NewHTTPMetrics(reg).Handler(),
	)

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	metrics := gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if d.MetricsUsername != "" {
		a.r.GET("/metrics", gin.BasicAuth(gin.Accounts{d.MetricsUsername: d.MetricsPassword}), metrics)
	} else {
		a.r.GET("/metrics", metrics)
	}

	// Reached from the emailed link; the token is the credential.
	a.r.GET("/bookings/confirm", a.confirmBookingHandler)

	authed := a.r.Group("/")
	authed.Use(d.Auth...)
	authed.Use(middleware.ResolveAccount(d.Accounts, d.Profiles, d.SignupGrant))
	{
		authed.GET("/me", a.meHandler)

		authed.GET("/vehicles", a.listVehiclesHandler)
		authed.POST("/vehicles", a.createVehicleHandler)

		authed.GET("/bookings", a.getBookingsHandler)
		authed.POST("/bookings", middleware.Idempotency(d.Idempotency), a.createBookingHandler)
		authed.POST("/bookings/:bookingId/cancel", a.cancelBookingHandler)

		authed.POST("/rides", a.publishRideHandler)
		authed.GET("/rides/:rideId", a.getRideHandler)
		authed.GET("/rides/:rideId/availability", a.availabilityHandler)
		authed.POST("/rides/:rideId/start", a.startRideHandler)
		authed.POST("/rides/:rideId/finish", a.finishRideHandler)
		authed.POST("/rides/:rideId/cancel", a.cancelRideHandler)
	}

	return a
}

func (a *API) Router() *gin.Engine {
	return a.r
}

const (
	codeInvalidRequest      = "InvalidRequest"
	codeSeatsUnavailable    = "SeatsUnavailable"
	codeInsufficientCredits = "InsufficientCredits"
	codeAlreadyBooked       = "AlreadyBooked"
	codeRideNotBookable     = "RideNotBookable"
	codeNotFound            = "NotFound"
	codeForbidden           = "Forbidden"
	codeInvalidState        = "InvalidState"
	codeInvalidToken        = "InvalidToken"
	codeConflict            = "Conflict"
	codeInternal            = "Internal"
)

// fail writes the {success:false} body for err. Business failures carry their own code;
// anything unrecognised is logged and reported as an internal error without details.
func fail(c *gin.Context, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		middleware.GetLogger(c).ErrorContext(c.Request.Context(), "request failed", "error", err)
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"success": false, "code": code, "message": message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "code": codeInvalidRequest, "message": message})
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, booking.ErrSeatsUnavailable):
		return http.StatusConflict, codeSeatsUnavailable, "Not enough seats left on this ride"
	case errors.Is(err, booking.ErrInsufficientCredits):
		return http.StatusUnprocessableEntity, codeInsufficientCredits, "Insufficient credits for this booking"
	case errors.Is(err, booking.ErrAlreadyBooked):
		return http.StatusConflict, codeAlreadyBooked, "You already have an active booking on this ride"
	case errors.Is(err, booking.ErrRideNotBookable):
		return http.StatusConflict, codeRideNotBookable, "This ride is not open for booking"
	case errors.Is(err, booking.ErrInvalidSeats), errors.Is(err, lifecycle.ErrInvalidRide):
		return http.StatusBadRequest, codeInvalidRequest, err.Error()
	case errors.Is(err, settlement.ErrInvalidToken):
		return http.StatusNotFound, codeInvalidToken, "Confirmation link is invalid"
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, ride.ErrNotFound), errors.Is(err, vehicle.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "Not found"
	case errors.Is(err, booking.ErrForbidden), errors.Is(err, lifecycle.ErrNotDriver), errors.Is(err, vehicle.ErrNotOwner):
		return http.StatusForbidden, codeForbidden, "Not allowed"
	case errors.Is(err, booking.ErrInvalidState), errors.Is(err, booking.ErrConflict),
		errors.Is(err, settlement.ErrInvalidState), errors.Is(err, lifecycle.ErrInvalidState):
		return http.StatusConflict, codeInvalidState, err.Error()
	case errors.Is(err, pg.ErrConflict):
		return http.StatusConflict, codeConflict, "The resource is busy, please retry"
	default:
		return http.StatusInternalServerError, codeInternal, "internal error"
	}
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func currentAccount(c *gin.Context) account.Account {
	acc, _ := middleware.GetAccount(c)
	return acc
}
