package http

import (
	"context"
	"net/http"
	"time"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/audit"
	"cyberguard-progress-service/internal/logger"
	"cyberguard-progress-service/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ActivityReader returns a user's most recent audit events, newest first.
type ActivityReader interface {
	Recent(ctx context.Context, userID string, limit int64) ([]audit.Event, error)
}

type RouterConfig struct {
	Service           *app.Service
	Log               *logger.Logger
	Metrics           *metrics.Metrics
	JWTSecret         string
	AllowedOrigins    []string
	RequestsPerMinute int
	Submissions       SubmissionLimiter
	Activity          ActivityReader
}

// NewRouter wires every REST route and the leaderboard websocket. Background
// housekeeping started here stops with ctx.
func NewRouter(ctx context.Context, cfg RouterConfig) *gin.Engine {
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), RequestLogger(cfg.Log))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
		r.GET("/metrics", cfg.Metrics.Handler())
	}
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	h := &Handler{service: cfg.Service, log: cfg.Log, activity: cfg.Activity}
	feed := NewFeedHandler(cfg.Service, cfg.Log)
	auth := Authenticate(cfg.JWTSecret)

	r.GET("/ws/leaderboard", auth, feed.Serve)

	api := r.Group("/api", NewIPRateLimiter(ctx, cfg.RequestsPerMinute).Middleware())

	learning := api.Group("/learning")
	learning.GET("/modules", h.listModules)
	learning.GET("/modules/level/:level", h.modulesByLevel)
	learning.GET("/modules/:moduleId", h.getModule)
	learning.GET("/modules/:moduleId/questions", h.moduleQuestions)
	api.GET("/badges", h.listBadges)

	progress := api.Group("/progress", auth)
	progress.GET("/summary", h.progressSummary)
	progress.GET("", h.allProgress)
	progress.GET("/active", h.activeModule)
	progress.POST("/active/exit", h.exitActiveModule)
	progress.POST("/modules/:moduleId/start", h.startModule)
	progress.POST("/modules/:moduleId/submit", LimitSubmissions(cfg.Submissions, cfg.Log), h.submitQuiz)
	progress.GET("/modules/:moduleId", h.moduleProgress)
	progress.PATCH("/modules/:moduleId/accessed", h.touchModule)

	board := api.Group("/leaderboard")
	board.GET("", h.leaderboard)
	board.GET("/top", h.topPerformers)
	board.GET("/stats", h.leaderboardStats)
	board.GET("/level/:level", h.leaderboardByLevel)
	me := board.Group("/me", auth)
	me.GET("", h.myEntry)
	me.GET("/rank", h.myRank)
	me.GET("/near", h.nearMe)

	users := api.Group("/users", auth)
	users.GET("/badges", h.userBadges)
	users.GET("/activity", h.userActivity)

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
