package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"schooltrack/internal/auth"
	"schooltrack/internal/ingest"
	"schooltrack/internal/model"
)

type scanPayload struct {
	ClientUUID    uuid.UUID `json:"client_uuid" binding:"required"`
	TripID        uuid.UUID `json:"trip_id" binding:"required"`
	CheckpointID  uuid.UUID `json:"checkpoint_id" binding:"required"`
	StudentID     uuid.UUID `json:"student_id" binding:"required"`
	AssignmentID  *int64    `json:"assignment_id"`
	ScannedAt     time.Time `json:"scanned_at" binding:"required"`
	ScanMethod    string    `json:"scan_method" binding:"required,scanmethod"`
	ScanSequence  *int      `json:"scan_sequence" binding:"omitempty,min=1"`
	IsManual      bool      `json:"is_manual"`
	Justification *string   `json:"justification" binding:"omitempty,max=50"`
	Comment       *string   `json:"comment"`
}

type syncRequest struct {
	Scans    []scanPayload `json:"scans" binding:"required,dive"`
	DeviceID string        `json:"device_id" binding:"max=255"`
}

func (p scanPayload) toScan() ingest.Scan {
	seq := 1
	if p.ScanSequence != nil {
		seq = *p.ScanSequence
	}
	return ingest.Scan{
		ClientUUID:    p.ClientUUID,
		TripID:        p.TripID,
		CheckpointID:  p.CheckpointID,
		StudentID:     p.StudentID,
		AssignmentID:  p.AssignmentID,
		ScannedAt:     p.ScannedAt,
		ScanMethod:    model.ScanMethod(p.ScanMethod).Normalize(),
		ScanSequence:  seq,
		IsManual:      p.IsManual,
		Justification: p.Justification,
		Comment:       p.Comment,
	}
}

func (h *handler) syncAttendances(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Scans) > h.MaxBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("batch too large: maximum %d scans per request", h.MaxBatch)})
		return
	}

	// The authenticated device wins over the self-declared one.
	deviceID := auth.DeviceID(c)
	if deviceID == "" {
		deviceID = req.DeviceID
	}

	scans := make([]ingest.Scan, len(req.Scans))
	for i, p := range req.Scans {
		scans[i] = p.toScan()
	}
	res, err := h.Sync.SyncBatch(c.Request.Context(), scans, deviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) listSyncLogs(c *gin.Context) {
	if h.SyncLogs == nil {
		c.JSON(http.StatusOK, gin.H{"sync_logs": []model.SyncLog{}})
		return
	}
	logs, err := h.SyncLogs.SyncLogs(c.Request.Context(), c.Query("device_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if logs == nil {
		logs = []model.SyncLog{}
	}
	c.JSON(http.StatusOK, gin.H{"sync_logs": logs})
}

type registerDeviceRequest struct {
	DeviceID string `json:"device_id" binding:"required,notblank,max=255"`
}

func (h *handler) registerDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := h.Auth.Register(c.Request.Context(), req.DeviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *handler) refreshDevice(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}
