package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"schooltrack/internal/assignment"
	"schooltrack/internal/auth"
	"schooltrack/internal/ingest"
	"schooltrack/internal/model"
	"schooltrack/internal/roster"
	"schooltrack/internal/trip"
)

// writeError translates service errors to HTTP responses. Unknown errors are
// logged by requestLogger through c.Errors and reported as 500.
func writeError(c *gin.Context, err error) {
	var (
		ae *assignment.Error
		ve validator.ValidationErrors
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fieldErrors(ve)})
	case errors.As(err, &ae):
		status := http.StatusConflict
		if ae.Code == assignment.CodeNotParticipant {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": ae.Error(), "code": ae.Code})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case ingest.IsRetryable(err):
		_ = c.Error(err)
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync batch not persisted, retry later", "retryable": true})
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	case isBadRequest(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if uv, ok := model.AsUniqueViolation(err); ok {
			c.JSON(http.StatusConflict, gin.H{"error": "already exists", "constraint": uv.Constraint})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

var badRequests = []error{
	assignment.ErrInvalidRequest,
	ingest.ErrBatchTooLarge,
	ingest.ErrUnknownReference,
	trip.ErrInvalid,
	trip.ErrConcluded,
	trip.ErrArchived,
	trip.ErrCheckpointDraft,
	trip.ErrCheckpointClosed,
	roster.ErrInvalid,
	auth.ErrInvalidDevice,
}

func isBadRequest(err error) bool {
	for _, target := range badRequests {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func fieldErrors(ve validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out[fe.Namespace()] = msg
	}
	return out
}

// badRequest answers a malformed body or parameter.
func badRequest(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
