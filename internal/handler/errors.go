package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gymattendance/internal/attendance"
	"gymattendance/internal/reporting"
)

// fail maps engine and reporting errors to status codes. Storage details never reach
// the client.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		denied   *attendance.AccessDeniedError
		conflict *attendance.ConflictError
		noEntry  *attendance.NoOpenEntryError
	)
	switch {
	case errors.As(err, &denied):
		c.JSON(http.StatusForbidden, gin.H{
			"status":      attendance.OutcomeDenied,
			"message":     denied.Error(),
			"daysOverdue": denied.DaysOverdue,
		})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"status":    attendance.OutcomeConflict,
			"message":   conflict.Error(),
			"sessionId": conflict.SessionID,
		})
	case errors.As(err, &noEntry):
		c.JSON(http.StatusNotFound, gin.H{
			"status":  attendance.OutcomeNotFound,
			"message": noEntry.Error(),
		})
	case errors.Is(err, attendance.ErrMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"status":  attendance.OutcomeNotFound,
			"message": "Member not found.",
		})
	case errors.Is(err, attendance.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, attendance.ErrDuplicateOpenSession),
		errors.Is(err, attendance.ErrSessionNotClosed),
		errors.Is(err, attendance.ErrAlreadyClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrInvalidDirection),
		errors.Is(err, reporting.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable, please retry"})
	default:
		h.log.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
