package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.RequestIDMiddleware())

	r.Use(cors.New(cors.Config{
		AllowOrigins: s.config.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	r.GET("/health", s.healthHandler)
	r.GET("/usage", s.usageHandler)

	api := r.Group("/api")
	{
		// dispatch fans out to whichever backend the payload names; one
		// shared ceiling covers them all at the router
		api.POST("/dispatch", s.RateLimitMiddleware(rate.NewLimiter(rate.Limit(5), 10)), s.dispatchHandler)

		jobs := api.Group("/jobs")
		jobs.POST("", s.RateLimitMiddleware(rate.NewLimiter(rate.Limit(1), 3)), s.createJobHandler)
		jobs.GET("/:id", s.getJobHandler)
		jobs.GET("/:id/results", s.jobResultsHandler)
	}

	return r
}
