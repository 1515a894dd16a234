package httpapi

import (
	"errors"
	"net/http"

	"negotiator/internal/evidence"
	"negotiator/internal/negotiation"
	"negotiator/internal/reporting"
	"negotiator/internal/voice"
	"negotiator/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError is the only place domain errors become status codes. Anything
// unrecognized is a 500 with the caller-supplied generic message; the real
// error is only logged.
func writeError(c *gin.Context, err error, generic string) {
	var verr *negotiation.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, negotiation.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Negotiation not found"})
	case errors.Is(err, evidence.ErrNotImage), errors.Is(err, evidence.ErrTooLarge), errors.Is(err, evidence.ErrEmpty):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid summary request"})
	case errors.Is(err, voice.ErrNotConfigured):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": voice.ErrNotConfigured.Error()})
	case voice.IsNotFound(err):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call not found"})
	default:
		logger.FromGin(c).Error(generic, "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": generic})
	}
}
