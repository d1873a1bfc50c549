// Package server assembles the gateway's HTTP surface: the authentication
// pipeline, the session endpoints, health and metrics, and the catch-all
// proxy route.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"auth-gateway/internal/gateway"
	"auth-gateway/internal/metrics"
	sessionhandler "auth-gateway/internal/session/handler"
)

// Options carries the router's collaborators.
type Options struct {
	Gateway        *gateway.Middleware
	Sessions       *sessionhandler.Handler
	Proxy          gin.HandlerFunc
	MetricsEnabled bool
	// AllowCorsCookies permits credentialed cross-origin requests.
	AllowCorsCookies bool
}

// NewRouter builds the gin engine. CORS runs first so preflights never hit
// the pipeline; every other route except health and metrics passes through
// the gateway pipeline, and anything that is not a gateway-owned route is
// handed to the proxy.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), corsHandler(opts.AllowCorsCookies), opts.Gateway.Handler())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	opts.Sessions.Register(r)
	r.NoRoute(opts.Proxy)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond).String(),
			"ip", c.ClientIP())
	}
}
