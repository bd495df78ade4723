package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// untracedPrefixes are polled by health checks and scrapers or serve static docs.
var untracedPrefixes = []string{"/health", "/metrics", "/swagger/"}

// GinMiddleware traces API requests. Spans are named after the matched route
// template, e.g. "GET /api/v1/simulations/:uid".
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName,
		otelgin.WithFilter(traced),
		otelgin.WithSpanNameFormatter(routeSpanName),
	)
}

func traced(r *http.Request) bool {
	for _, prefix := range untracedPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	return true
}

func routeSpanName(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	return c.Request.Method + " " + route
}
