package niches

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"niche-backend/internal/shared/server/middleware"
	"niche-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches niche routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/niches", h.create)
	rg.GET("/niches/:id", h.get)
	rg.DELETE("/niches/:id", h.remove)
	rg.POST("/niches/:id/process", h.process)
	rg.POST("/niches/:id/retry-failed", h.retryFailed)
	rg.GET("/niches/:id/progress", h.progress)
	rg.GET("/niches/:id/products", h.products)
	rg.GET("/niches/:id/analysis/:table", h.analysis)
}

type createRequest struct {
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Tags          []string   `json:"tags"`
	ASINs         []string   `json:"asins"`
	Marketplace   string     `json:"marketplace"`
	ScheduledDate *time.Time `json:"scheduledDate"`
}

func (h *Handler) create(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	niche, err := h.Svc.Create(c.Request.Context(), userID, CreateInput{
		Name:          req.Name,
		Category:      req.Category,
		Tags:          req.Tags,
		ASINs:         req.ASINs,
		Marketplace:   req.Marketplace,
		ScheduledDate: req.ScheduledDate,
	})
	if err != nil {
		h.fail(c, err, "failed to create niche")
		return
	}
	respond.JSON(c, http.StatusCreated, niche)
}

func (h *Handler) get(c *gin.Context) {
	niche, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to fetch niche")
		return
	}
	respond.OK(c, niche)
}

func (h *Handler) remove(c *gin.Context) {
	if err := h.Svc.Delete(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id")); err != nil {
		h.fail(c, err, "failed to delete niche")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) process(c *gin.Context) {
	job, err := h.Svc.Process(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to start processing")
		return
	}
	respond.Accepted(c, job)
}

func (h *Handler) retryFailed(c *gin.Context) {
	job, err := h.Svc.RetryFailed(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to retry niche")
		return
	}
	respond.Accepted(c, job)
}

func (h *Handler) progress(c *gin.Context) {
	view, err := h.Svc.Progress(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to fetch progress")
		return
	}
	respond.OK(c, view)
}

func (h *Handler) products(c *gin.Context) {
	products, err := h.Svc.Products(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to list products")
		return
	}
	if products == nil {
		products = []Product{}
	}
	respond.OK(c, products)
}

func (h *Handler) analysis(c *gin.Context) {
	row, err := h.Svc.Analysis(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"), c.Param("table"))
	if err != nil {
		h.fail(c, err, "failed to fetch analysis")
		return
	}
	respond.OK(c, row)
}

func (h *Handler) fail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "niche not found", nil)
	case errors.Is(err, ErrAlreadyProcessing):
		respond.Error(c, http.StatusConflict, "already_processing", err.Error(), nil)
	case errors.Is(err, ErrNothingToRetry):
		respond.Error(c, http.StatusConflict, "nothing_to_retry", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
