package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/handler"
	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/observability"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
)

// reportMaxAge is how long a browser may cache a decoded report.
const reportMaxAge = 24 * 60 * 60

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	Report  *handler.ReportHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// A nil Monitor handler leaves the proctor feed unrouted.
func SetupRouter(
	tokens *service.TokenService,
	accessLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(observability.MetricsMiddleware())

	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: cfg.CompressionMinBytes,
		Skipper:   middleware.SkipPaths("/metrics"),
	}))

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", observability.MetricsHandler())

	api := router.Group("/api/v1")

	// ─── 0. Public Group (No Auth) ─────────────────────────────────────
	{
		access := api.Group("/access")
		access.Use(accessLimiter.Middleware(), middleware.NoStore())
		access.POST("", handlers.Session.Access)

		api.GET("/report", middleware.CacheControl(reportMaxAge), handlers.Report.GetReport)
	}

	// ─── 1. Session Group (session token) ──────────────────────────────
	sessionAPI := api.Group("")
	sessionAPI.Use(middleware.RequireSessionToken(tokens), middleware.NoStore())
	{
		sessionAPI.GET("/session", handlers.Session.GetSession)
		sessionAPI.PUT("/answers/:question_id", handlers.Session.SaveAnswer)
		sessionAPI.POST("/answers/:question_id/grade", handlers.Session.GradeAnswer)
		sessionAPI.POST("/counters", handlers.Session.UpdateCounters)
		sessionAPI.POST("/signals", handlers.Session.ReportSignal)
		sessionAPI.POST("/submit", handlers.Session.Submit)
	}

	// ─── 2. Proctor Group (static proctor token) ───────────────────────
	if handlers.Monitor != nil {
		proctor := api.Group("/proctor")
		proctor.Use(middleware.RequireProctorToken(cfg.ProctorToken))
		proctor.GET("/attempts/:attempt_id/live", handlers.Monitor.LiveAttemptSSE)
	}

	// ─── 3. WebSocket ──────────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireSessionWSAuth(tokens))
	ws.GET("/session", handlers.WS.SessionStream)

	return router
}
