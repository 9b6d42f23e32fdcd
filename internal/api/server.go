package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Sha-Dox/coral/internal/config"
	"github.com/Sha-Dox/coral/internal/notify"
	"github.com/Sha-Dox/coral/internal/redis"
	"github.com/Sha-Dox/coral/internal/scheduler"
	"github.com/Sha-Dox/coral/internal/security"
	"github.com/Sha-Dox/coral/internal/store"
)

// Server is the dashboard backend. Read endpoints are open on the local
// network; everything that mutates state sits behind the admin key when one
// is configured.
type Server struct {
	log       *slog.Logger
	store     *store.Postgres
	redis     *redis.Client
	scheduler *scheduler.Scheduler
	notifier  *notify.Dispatcher
	cfg       config.Config
	router    *gin.Engine
	limiter   *security.RateLimiter
}

func NewServer(log *slog.Logger, st *store.Postgres, redisClient *redis.Client, sched *scheduler.Scheduler, notifier *notify.Dispatcher, cfg config.Config) *Server {
	s := &Server{
		log:       log,
		store:     st,
		redis:     redisClient,
		scheduler: sched,
		notifier:  notifier,
		cfg:       cfg,
		router:    gin.New(),
		limiter:   security.NewRateLimiter(rate.Limit(5), 20, 10*time.Minute),
	}

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(s.rateLimitMiddleware())

	api := r.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/stats", s.stats)

		api.GET("/identities", s.listIdentities)
		api.GET("/identities/:id", s.getIdentity)
		api.GET("/identities/:id/events", s.listIdentityEvents)

		api.GET("/accounts/:id", s.getAccount)
		api.GET("/accounts/:id/events", s.listAccountEvents)
		api.GET("/accounts/:id/boards", s.listAccountBoards)

		api.GET("/events", s.listEvents)
		api.GET("/events/:id", s.getEvent)

		api.GET("/scheduler", s.schedulerStatus)

		admin := api.Group("")
		admin.Use(s.adminAuthMiddleware())
		{
			admin.POST("/identities", s.addIdentity)
			admin.PATCH("/identities/:id", s.updateIdentity)
			admin.DELETE("/identities/:id", s.deleteIdentity)

			admin.POST("/identities/:id/accounts", s.addAccount)
			admin.PATCH("/accounts/:id", s.updateAccount)
			admin.DELETE("/accounts/:id", s.deleteAccount)

			admin.GET("/settings", s.listSettings)
			admin.PUT("/settings/:key", s.putSetting)
			admin.DELETE("/settings/:key", s.deleteSetting)

			admin.POST("/check", s.checkAll)
			admin.POST("/check/:id", s.checkAccount)
			admin.POST("/test-notification", s.testNotification)
		}
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}
