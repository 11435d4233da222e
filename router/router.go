package router

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JerryLinyx/feedrefresh/controllers"
	"github.com/JerryLinyx/feedrefresh/middlewares"
)

type Options struct {
	AllowedOrigins []string
	JWTSecret      string
	HealthChecks   map[string]controllers.HealthCheck
}

func InitRouter(feeds *controllers.FeedController, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger())

	allowedOrigins := make([]string, 0, len(opts.AllowedOrigins))
	for _, v := range opts.AllowedOrigins {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			allowedOrigins = append(allowedOrigins, trimmed)
		}
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	allowCreds := true
	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		allowCreds = false
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: allowCreds,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/api/health", controllers.Health(opts.HealthChecks))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middlewares.AuthMiddleware(opts.JWTSecret))
	{
		api.GET("/feeds", feeds.ListFeeds)
		api.POST("/feeds", feeds.CreateFeed)
		api.GET("/feeds/:id/posts", feeds.GetFeedPosts)
		api.POST("/feeds/:id/refresh", feeds.RefreshFeed)

		api.POST("/refresh", feeds.RefreshAll)

		api.GET("/scheduler", feeds.GetScheduler)
		api.PUT("/scheduler", feeds.UpdateScheduler)
	}

	return r
}
