package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"niche-backend/internal/shared/config"
)

// corsPolicy is the header set derived once from config.CORS.
type corsPolicy struct {
	origins   map[string]struct{}
	anyOrigin bool
	methods   string
	headers   string
	expose    string
	maxAge    string
}

func newCORSPolicy(cfg config.CORS) corsPolicy {
	p := corsPolicy{origins: map[string]struct{}{}}
	for _, o := range cleanList(cfg.AllowOrigins) {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[o] = struct{}{}
	}
	p.methods = strings.Join(cleanList(cfg.AllowMethods), ", ")
	p.headers = strings.Join(cleanList(cfg.AllowHeaders), ", ")
	p.expose = strings.Join(cleanList(cfg.ExposeHeaders), ", ")
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		p.maxAge = strconv.Itoa(secs)
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS answers preflight requests and decorates responses for origins the
// config allows. Unknown origins get no CORS headers.
func CORS(cfg config.CORS) gin.HandlerFunc {
	policy := newCORSPolicy(cfg)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		if policy.allows(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			setIf(h, "Access-Control-Allow-Methods", policy.methods)
			setIf(h, "Access-Control-Allow-Headers", policy.headers)
			setIf(h, "Access-Control-Expose-Headers", policy.expose)
			setIf(h, "Access-Control-Max-Age", policy.maxAge)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
