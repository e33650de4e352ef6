package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/carpool-backend/vehicle"
)

func (a *API) meHandler(c *gin.Context) {
	acc := currentAccount(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"account": gin.H{
			"id":      acc.ID,
			"email":   acc.Email.String,
			"name":    acc.Name.String,
			"credits": acc.Credits,
		},
	})
}

type vehicleRequest struct {
	Label string  `json:"label" binding:"required"`
	Model *string `json:"model"`
	Seats int     `json:"seats" binding:"required,min=1"`
}

func (a *API) createVehicleHandler(c *gin.Context) {
	var req vehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	v := vehicle.Vehicle{
		OwnerID: currentAccount(c).ID,
		Label:   strings.ToUpper(strings.TrimSpace(req.Label)),
		Model:   req.Model,
		Seats:   req.Seats,
	}
	if err := a.vr.Create(c.Request.Context(), &v); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "vehicle": v})
}

func (a *API) listVehiclesHandler(c *gin.Context) {
	vehicles, err := a.vr.ListByOwner(c.Request.Context(), currentAccount(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	if vehicles == nil {
		vehicles = []vehicle.Vehicle{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "vehicles": vehicles})
}
