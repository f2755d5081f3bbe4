package users

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"niche-backend/internal/analysisruns"
	"niche-backend/internal/shared/server/middleware"
	"niche-backend/internal/shared/server/respond"
)

// UsageReporter reports the monthly analysis allowance of a user.
type UsageReporter interface {
	Usage(ctx context.Context, userID string) (analysisruns.Usage, error)
}

type Handler struct {
	Svc   *Service
	Usage UsageReporter
}

func NewHandler(svc *Service, usage UsageReporter) *Handler {
	return &Handler{Svc: svc, Usage: usage}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.me)
}

// me answers for users without a stored profile too; they count as free tier.
func (h *Handler) me(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}
	user, err := h.Svc.GetByID(c.Request.Context(), userID)
	switch {
	case errors.Is(err, ErrNotFound):
		user = User{ID: userID, Email: middleware.UserEmailFromContext(c), SubscriptionTier: TierFree}
	case err != nil:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load user", nil)
		return
	}

	body := gin.H{
		"id":               user.ID,
		"email":            user.Email,
		"subscriptionTier": user.SubscriptionTier,
	}
	if h.Usage != nil {
		usage, err := h.Usage.Usage(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load usage", nil)
			return
		}
		body["usage"] = usage
	}
	respond.JSON(c, http.StatusOK, body)
}
