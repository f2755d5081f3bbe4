package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"niche-backend/internal/services/health"
	"niche-backend/internal/shared/config"
	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/server/middleware"
	"niche-backend/internal/shared/server/respond"
)

// RouteRegistrar attaches a feature's routes to the authenticated group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps are the handlers mounted under /api/v1. Nil handlers are
// skipped.
type RouterDeps struct {
	Config         config.Config
	NichesHandler  RouteRegistrar
	RunsHandler    RouteRegistrar
	UsersHandler   RouteRegistrar
	Health         *health.Service
	RateLimitRules map[string]middleware.RateLimitRule
}

// Rate limit groups.
const (
	GroupDefault       = "DEFAULT"
	GroupStatus        = "STATUS"
	GroupStartAnalysis = "START_ANALYSIS"
)

// DefaultRateLimitRules allow frequent status polling and few run starts.
func DefaultRateLimitRules() map[string]middleware.RateLimitRule {
	return map[string]middleware.RateLimitRule{
		GroupDefault:       {Rate: 2, Burst: 20},
		GroupStatus:        {Rate: 5, Burst: 30},
		GroupStartAnalysis: {Rate: 0.2, Burst: 3},
	}
}

// RateLimitGroup classifies a request for the rate limiter.
func RateLimitGroup(c *gin.Context) string {
	switch {
	case c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/analyses":
		return GroupStartAnalysis
	case c.Request.Method == http.MethodGet:
		switch c.FullPath() {
		case "/api/v1/analyses/:id", "/api/v1/niches/:id/progress":
			return GroupStatus
		}
	}
	return GroupDefault
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if !deps.Config.IsDevLike() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORS),
	)

	r.GET("/metrics", metrics.Handler())
	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService(nil, deps.Config.QueueDriver)
	}
	r.GET("/api/v1/health", func(c *gin.Context) {
		st := healthSvc.Check(c.Request.Context())
		status := http.StatusOK
		if !st.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, st)
	})

	api := r.Group("/api/v1")
	api.Use(
		middleware.Auth(deps.Config.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:        deps.RateLimitRules,
			DefaultGroup: GroupDefault,
			GroupFor:     RateLimitGroup,
		}),
	)
	for _, h := range []RouteRegistrar{deps.UsersHandler, deps.NichesHandler, deps.RunsHandler} {
		if h != nil {
			h.RegisterRoutes(api)
		}
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
