package directory

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const corsAllowHeaders = "Authorization, Origin, Accept, X-Requested-With, Content-Type, Access-Control-Request-Method, Access-Control-Request-Headers"

// OriginAllowed reports whether origin ends with one of the allowed
// suffixes, e.g. ".raisely.com".
func OriginAllowed(allowed []string, origin string) bool {
	origin = strings.ToLower(strings.TrimSpace(origin))
	if origin == "" {
		return false
	}
	for _, suffix := range allowed {
		if suffix != "" && strings.HasSuffix(origin, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// CORS answers preflights with 204. A request from an origin outside the
// allowed suffixes gets the first allowed entry echoed back, which browsers
// reject.
func CORS(allowed []string) gin.HandlerFunc {
	fallback := ""
	if len(allowed) > 0 {
		fallback = allowed[0]
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowOrigin := fallback
		if OriginAllowed(allowed, origin) {
			allowOrigin = origin
		}

		hdr := c.Writer.Header()
		hdr.Set("Access-Control-Allow-Methods", "POST,GET,HEAD,OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		if allowOrigin != "" {
			hdr.Set("Access-Control-Allow-Origin", allowOrigin)
		}
		hdr.Set("Access-Control-Allow-Credentials", "true")
		hdr.Set("Access-Control-Max-Age", "86400")
		hdr.Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
