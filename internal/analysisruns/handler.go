package analysisruns

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"niche-backend/internal/shared/server/middleware"
	"niche-backend/internal/shared/server/respond"
	"niche-backend/internal/shared/telemetry"
)

// Handler exposes analysis runs over HTTP.
type Handler struct {
	Svc *Orchestrator
}

func NewHandler(svc *Orchestrator) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.start)
	rg.GET("/analyses/stats", h.stats)
	rg.GET("/analyses/:id", h.status)
	rg.GET("/analyses/:id/events", h.events)
	rg.POST("/analyses/:id/resume", h.resume)
	rg.POST("/analyses/:id/cancel", h.cancel)
}

type startRequest struct {
	NicheID              string `json:"nicheId"`
	IncludeReviews       *bool  `json:"includeReviews"`
	IncludeCompetitors   *bool  `json:"includeCompetitors"`
	IncludeSocialMedia   bool   `json:"includeSocialMedia"`
	MaxProductsToAnalyze int    `json:"maxProductsToAnalyze"`
	Priority             string `json:"priority"`
	WebhookURL           string `json:"webhookUrl"`
}

func (h *Handler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ctx := telemetry.WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	runID, err := h.Svc.StartAnalysis(ctx, Config{
		NicheID:              req.NicheID,
		UserID:               middleware.UserIDFromContext(c),
		IncludeReviews:       req.IncludeReviews,
		IncludeCompetitors:   req.IncludeCompetitors,
		IncludeSocialMedia:   req.IncludeSocialMedia,
		MaxProductsToAnalyze: req.MaxProductsToAnalyze,
		Priority:             req.Priority,
		WebhookURL:           req.WebhookURL,
	})
	if err != nil {
		h.fail(c, err, "failed to start analysis")
		return
	}
	respond.Accepted(c, gin.H{"runId": runID})
}

// owned loads the run and hides runs of other users behind a 404.
func (h *Handler) owned(c *gin.Context) (StatusView, bool) {
	view, err := h.Svc.GetAnalysisStatus(c.Request.Context(), c.Param("id"))
	if err == nil && view.UserID != middleware.UserIDFromContext(c) {
		err = newError(CodeRunNotFound, "Analysis run not found")
	}
	if err != nil {
		h.fail(c, err, "failed to fetch analysis")
		return StatusView{}, false
	}
	return view, true
}

func (h *Handler) status(c *gin.Context) {
	if view, ok := h.owned(c); ok {
		respond.OK(c, view)
	}
}

func (h *Handler) events(c *gin.Context) {
	if _, ok := h.owned(c); !ok {
		return
	}
	events, err := h.Svc.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to list events")
		return
	}
	if events == nil {
		events = []Event{}
	}
	respond.OK(c, events)
}

func (h *Handler) resume(c *gin.Context) {
	if _, ok := h.owned(c); !ok {
		return
	}
	ctx := telemetry.WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	if err := h.Svc.ResumeAnalysis(ctx, c.Param("id")); err != nil {
		h.fail(c, err, "failed to resume analysis")
		return
	}
	respond.Accepted(c, gin.H{"runId": c.Param("id"), "status": StatusQueued})
}

func (h *Handler) cancel(c *gin.Context) {
	if _, ok := h.owned(c); !ok {
		return
	}
	if err := h.Svc.CancelAnalysis(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, "failed to cancel analysis")
		return
	}
	respond.OK(c, gin.H{"runId": c.Param("id"), "status": StatusFailed})
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.Svc.QueueStats(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to fetch queue stats")
		return
	}
	respond.OK(c, st)
}

func (h *Handler) fail(c *gin.Context, err error, fallback string) {
	var quota *QuotaExceededError
	if errors.As(err, &quota) {
		respond.Error(c, http.StatusTooManyRequests, "quota_exceeded", quota.Error(), gin.H{"limit": quota.Limit, "used": quota.Used})
		return
	}
	switch CodeOf(err) {
	case CodeInvalidConfig:
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case CodeNicheNotFound:
		respond.Error(c, http.StatusNotFound, "not_found", "niche not found", nil)
	case CodeRunNotFound:
		respond.Error(c, http.StatusNotFound, "not_found", "analysis run not found", nil)
	case CodeInvalidState:
		respond.Error(c, http.StatusConflict, "invalid_state", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
