package httpapi

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"schooltrack/internal/assignment"
	"schooltrack/internal/model"
)

type assignRequest struct {
	TokenUID       string    `json:"token_uid" binding:"required,notblank,max=50"`
	StudentID      uuid.UUID `json:"student_id" binding:"required"`
	TripID         uuid.UUID `json:"trip_id" binding:"required"`
	AssignmentType string    `json:"assignment_type" binding:"required,assignkind"`
}

func (r assignRequest) toRequest() assignment.Request {
	return assignment.Request{
		TokenUID:  r.TokenUID,
		StudentID: r.StudentID,
		TripID:    r.TripID,
		Kind:      model.AssignmentKind(r.AssignmentType),
	}
}

type reassignRequest struct {
	assignRequest
	Justification string `json:"justification" binding:"required,notblank"`
}

func (h *handler) assignToken(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.Assignments.Assign(c.Request.Context(), req.toRequest())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *handler) reassignToken(c *gin.Context) {
	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.Assignments.Reassign(c.Request.Context(), req.toRequest(), req.Justification)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *handler) tripAssignments(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	st, err := h.Assignments.Status(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) tripStudents(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ts, err := h.Assignments.TripStudents(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (h *handler) releaseTokens(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	n, err := h.Assignments.ReleaseAllForTrip(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trip_id": id, "released": n})
}

// exportAssignments renders the whole file before answering so a storage
// error still produces a JSON error instead of a truncated attachment.
func (h *handler) exportAssignments(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.Assignments.ExportCSV(c.Request.Context(), id, &buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=assignations_"+id.String()+".csv")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

type registerTokenRequest struct {
	TokenUID  string `json:"token_uid" binding:"required,notblank,max=50"`
	TokenType string `json:"token_type" binding:"required,assignkind"`
}

func (h *handler) registerToken(c *gin.Context) {
	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tok, created, err := h.Assignments.RegisterToken(c.Request.Context(), req.TokenUID, model.AssignmentKind(req.TokenType))
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, tok)
}

func (h *handler) listTokens(c *gin.Context) {
	toks, err := h.Assignments.ListTokens(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if toks == nil {
		toks = []model.Token{}
	}
	c.JSON(http.StatusOK, toks)
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
