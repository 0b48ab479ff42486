package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cognidex/portal-backend/internal/config"
	"github.com/cognidex/portal-backend/internal/handler"
	"github.com/cognidex/portal-backend/internal/middleware"
	"github.com/cognidex/portal-backend/internal/monitoring"
	"github.com/cognidex/portal-backend/internal/response"
	"github.com/cognidex/portal-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Series  *handler.SeriesHandler
	Session *handler.SessionHandler
	Result  *handler.ResultHandler
	WS      *handler.SubmissionWSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so every response carries metadata, then metrics.
	router.Use(response.RequestIDMiddleware())
	router.Use(monitoring.MetricsMiddleware())

	// Health check and Prometheus scrape endpoint.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", monitoring.PrometheusHandler())

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/guest", handlers.Auth.GuestLogin)
		auth.POST("/login", handlers.Auth.Login)
		auth.POST("/signup", handlers.Auth.Signup)

		auth.POST("/logout", middleware.RequireParticipantJWT(authService), handlers.Auth.Logout)
	}

	// ─── 2. Public Catalog ─────────────────────────────────────────────
	// The series listing is public and changes rarely; let clients cache
	// it briefly on top of the Redis cache.
	catalog := router.Group("/api/v1/series")
	catalog.Use(middleware.CacheControl(60))
	{
		catalog.GET("", handlers.Series.ListSeries)
	}

	// ─── 3. Session Group (JWT + Upstream Credential) ──────────────────
	sessions := router.Group("/api/v1")
	sessions.Use(
		middleware.RequireParticipantJWT(authService),
		middleware.ResolveUpstreamCredential(authService),
	)
	{
		sessions.POST("/sessions", handlers.Session.StartSession)
		sessions.GET("/sessions/:test_id", handlers.Session.GetSession)
		sessions.PUT("/sessions/:test_id/answers/:question_id", handlers.Session.SetAnswer)
		sessions.POST("/sessions/:test_id/advance", handlers.Session.Advance)
		sessions.POST("/sessions/:test_id/submit", handlers.Session.Submit)
		sessions.GET("/sessions/:test_id/submission", handlers.Session.GetSubmissionState)
		sessions.DELETE("/sessions/:test_id", handlers.Session.Cancel)

		sessions.GET("/results/:test_id", handlers.Result.GetResult)
	}

	// ─── 4. WebSocket Group (WS Auth) ──────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/sessions/:test_id/submission", handlers.WS.SubmissionStream)
	}

	return router
}
