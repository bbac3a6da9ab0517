package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"schooltrack/internal/model"
	"schooltrack/internal/trip"
)

type createTripRequest struct {
	Destination string      `json:"destination" binding:"required,notblank,max=255"`
	Date        string      `json:"date" binding:"required,datetime=2006-01-02"`
	Description *string     `json:"description"`
	ClassIDs    []uuid.UUID `json:"class_ids" binding:"required,min=1"`
}

type updateTripRequest struct {
	Destination *string     `json:"destination" binding:"omitempty,notblank,max=255"`
	Date        *string     `json:"date" binding:"omitempty,datetime=2006-01-02"`
	Description *string     `json:"description"`
	Status      *string     `json:"status" binding:"omitempty,oneof=PLANNED ACTIVE COMPLETED ARCHIVED"`
	ClassIDs    []uuid.UUID `json:"class_ids"`
}

func (h *handler) createTrip(c *gin.Context) {
	var req createTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	v, err := h.Trips.Create(c.Request.Context(), trip.CreateInput{
		Destination: req.Destination,
		Date:        date,
		Description: req.Description,
		ClassIDs:    req.ClassIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *handler) listTrips(c *gin.Context) {
	trips, err := h.Trips.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if trips == nil {
		trips = []trip.View{}
	}
	c.JSON(http.StatusOK, trips)
}

func (h *handler) getTrip(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	v, err := h.Trips.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) updateTrip(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req updateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	in := trip.UpdateInput{
		Destination: req.Destination,
		Description: req.Description,
		ClassIDs:    req.ClassIDs,
	}
	if req.Date != nil {
		d, _ := time.Parse(time.DateOnly, *req.Date)
		in.Date = &d
	}
	if req.Status != nil {
		st := model.TripStatus(*req.Status)
		in.Status = &st
	}
	v, err := h.Trips.Update(c.Request.Context(), id, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) archiveTrip(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.Trips.Archive(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) offlineData(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	b, err := h.Trips.OfflineBundle(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type createCheckpointRequest struct {
	Name        string  `json:"name" binding:"required,notblank,max=255"`
	Description *string `json:"description"`
}

func (h *handler) createCheckpoint(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req createCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cp, err := h.Trips.CreateCheckpoint(c.Request.Context(), id, req.Name, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (h *handler) listCheckpoints(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	cps, err := h.Trips.ListCheckpoints(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if cps == nil {
		cps = []model.Checkpoint{}
	}
	c.JSON(http.StatusOK, cps)
}

func (h *handler) closeCheckpoint(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	cp, err := h.Trips.CloseCheckpoint(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}
