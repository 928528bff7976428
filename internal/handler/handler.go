package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gymattendance/internal/attendance"
	"gymattendance/internal/auth"
	"gymattendance/internal/clock"
	"gymattendance/internal/queue"
	"gymattendance/internal/reporting"
)

// Handler exposes the attendance engine and reports over HTTP.
type Handler struct {
	engine  *attendance.Engine
	reports *reporting.Service
	jobs    queue.Queue
	clock   clock.Clock
	log     *zap.Logger
}

// New builds the handler. jobs may be nil, in which case on-demand sweeps are unavailable.
func New(engine *attendance.Engine, reports *reporting.Service, jobs queue.Queue, c clock.Clock, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: engine, reports: reports, jobs: jobs, clock: c, log: log}
}

// Register mounts the /v1 routes behind authn.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc) {
	v1 := r.Group("/v1", authn)
	desk := auth.RequireRole(auth.RoleKiosk, auth.RoleStaff)
	staff := auth.RequireRole(auth.RoleStaff)

	v1.POST("/scans", desk, h.scan)
	v1.GET("/members/:id/status", desk, h.status)

	v1.POST("/manual", staff, h.manual)
	v1.GET("/members/:id/sessions", staff, h.history)
	v1.GET("/presence", staff, h.presence)
	v1.GET("/reports/daily", staff, h.daily)
	v1.GET("/reports/range", staff, h.rangeReport)
	v1.GET("/stats", staff, h.stats)
	v1.POST("/sessions/:id/close", staff, h.closeSession)
	v1.POST("/sessions/:id/reopen", staff, h.reopen)
	v1.POST("/admin/sweep", staff, h.sweep)
}

type scanRequest struct {
	BadgeID string `json:"badgeId" binding:"required"`
}

type transitionResponse struct {
	Status    attendance.Outcome `json:"status"`
	Message   string             `json:"message"`
	Advisory  *string            `json:"advisory"`
	MemberID  int64              `json:"memberId"`
	Name      string             `json:"name"`
	SessionID int64              `json:"sessionId"`
	At        time.Time          `json:"at"`
	Reason    string             `json:"reason,omitempty"`
}

func (h *Handler) scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "badgeId is required"})
		return
	}
	res, err := h.engine.ProcessScan(c.Request.Context(), req.BadgeID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, transitionResponse{
		Status:    res.Status,
		Message:   res.Message,
		Advisory:  optional(res.Advisory),
		MemberID:  res.Member.ID,
		Name:      res.Member.FullName(),
		SessionID: res.Session.ID,
		At:        transitionTime(res.Session),
	})
}

type manualRequest struct {
	MemberID  int64  `json:"memberId" binding:"required"`
	Direction string `json:"direction" binding:"required"`
	Reason    string `json:"reason"`
}

func (h *Handler) manual(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "memberId and direction are required"})
		return
	}
	dir, err := attendance.ParseDirection(req.Direction)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.engine.ProcessManual(c.Request.Context(), req.MemberID, dir, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, transitionResponse{
		Status:    res.Status,
		Message:   res.Message,
		Advisory:  optional(res.Advisory),
		MemberID:  res.Member.ID,
		Name:      res.Member.FullName(),
		SessionID: res.Session.ID,
		At:        transitionTime(res.Session),
		Reason:    res.Reason,
	})
}

func (h *Handler) status(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.reports.StatusPreview(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) history(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	sessions, err := h.reports.History(c.Request.Context(), id, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memberId": id, "sessions": sessions})
}

func (h *Handler) presence(c *gin.Context) {
	inside, err := h.reports.WhoIsInNow(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(inside), "members": inside})
}

func (h *Handler) daily(c *gin.Context) {
	day := clock.Today(h.clock)
	if v := c.Query("date"); v != "" {
		parsed, err := clock.ParseDay(v, h.clock.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	rep, err := h.reports.DailyReport(c.Request.Context(), day)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) rangeReport(c *gin.Context) {
	loc := h.clock.Location()
	from, err1 := clock.ParseDay(c.Query("from"), loc)
	to, err2 := clock.ParseDay(c.Query("to"), loc)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must be YYYY-MM-DD"})
		return
	}
	days, err := h.reports.AttendanceRange(c.Request.Context(), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": c.Query("from"), "to": c.Query("to"), "days": days})
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.reports.Statistics(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) closeSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	closed, err := h.reports.CloseOrphan(c.Request.Context(), id)
	if errors.Is(err, attendance.ErrAlreadyClosed) {
		c.JSON(http.StatusOK, gin.H{"closed": false, "message": "Session was already closed."})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

type reopenRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reopen(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reopenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	s, err := h.engine.Reopen(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) sweep(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue not configured"})
		return
	}
	claims, _ := auth.FromContext(c)
	msg, job, err := queue.NewSweep(claims.Subject, h.clock.Now())
	if err == nil {
		err = h.jobs.Publish(c.Request.Context(), msg)
	}
	if err != nil {
		h.log.Error("sweep publish failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not enqueue sweep, retry"})
		return
	}
	h.log.Info("sweep requested", zap.String("job_id", job.ID), zap.String("by", job.RequestedBy))
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func transitionTime(s attendance.Session) time.Time {
	if s.ClosedAt != nil {
		return *s.ClosedAt
	}
	return s.OpenedAt
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
