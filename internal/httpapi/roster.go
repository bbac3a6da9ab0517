package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"schooltrack/internal/model"
)

type createStudentRequest struct {
	FirstName string  `json:"first_name" binding:"required,notblank,max=100"`
	LastName  string  `json:"last_name" binding:"required,notblank,max=100"`
	Email     *string `json:"email" binding:"omitempty,email,max=255"`
}

func (h *handler) createStudent(c *gin.Context) {
	var req createStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.Roster.CreateStudent(c.Request.Context(), req.FirstName, req.LastName, req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *handler) listStudents(c *gin.Context) {
	sts, err := h.Roster.ListStudents(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if sts == nil {
		sts = []model.Student{}
	}
	c.JSON(http.StatusOK, sts)
}

func (h *handler) getStudent(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	st, err := h.Roster.GetStudent(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type createClassRequest struct {
	Name string  `json:"name" binding:"required,notblank,max=100"`
	Year *string `json:"year" binding:"omitempty,max=20"`
}

func (h *handler) createClass(c *gin.Context) {
	var req createClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cl, err := h.Roster.CreateClass(c.Request.Context(), req.Name, req.Year)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cl)
}

func (h *handler) listClasses(c *gin.Context) {
	cls, err := h.Roster.ListClasses(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if cls == nil {
		cls = []model.Class{}
	}
	c.JSON(http.StatusOK, cls)
}

type enrollRequest struct {
	StudentIDs []uuid.UUID `json:"student_ids" binding:"required,min=1"`
}

func (h *handler) enrollStudents(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.Roster.EnrollStudents(c.Request.Context(), id, req.StudentIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class_id": id, "added": n})
}
