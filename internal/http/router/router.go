// Package router assembles the Gin engine: shared middleware, health and
// metrics endpoints, and the per-module route registration.
package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	apphttp "inmocrm_backend/internal/http"
	"inmocrm_backend/platform/httpkit"
)

// apiRate bounds unauthenticated traffic per client IP.
const (
	apiRatePerSecond = 50
	apiRateBurst     = 100
)

func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(corsMiddleware(app))

	engine.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/api/ready", func(c *gin.Context) {
		if err := app.Health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if app.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			app.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	limiter := httpkit.NewIPRateLimiter(rate.Limit(apiRatePerSecond), apiRateBurst, app.Logger)

	v1 := engine.Group("/api/v1")
	v1.Use(limiter.RateLimit())

	authMiddleware := httpkit.AuthRequired(app.Config)
	protected := v1.Group("")
	protected.Use(authMiddleware)

	ctx := &apphttp.RouterContext{
		Engine:         engine,
		V1:             v1,
		Protected:      protected,
		Config:         app.Config,
		AuthMiddleware: authMiddleware,
	}

	for _, module := range app.Modules {
		module.RegisterRoutes(ctx)
		app.Logger.Info("module routes registered", "module", module.Name())
	}

	return engine
}

func corsMiddleware(app *apphttp.App) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: app.Config.GetCORSAllowCreds(),
		MaxAge:           12 * time.Hour,
	}
	if app.Config.GetCORSAllowAll() {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = app.Config.GetCORSOrigins()
	}
	return cors.New(cfg)
}
