package http

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yanqian/sqlassistant/internal/infra/config"
)

//go:embed templates/index.html
var indexHTML string

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	logger := handler.logger

	router := gin.New()
	router.SetHTMLTemplate(template.Must(template.New(pageTemplate).Parse(indexHTML)))
	router.Use(
		gin.Recovery(),
		requestLogger(logger),
		metricsMiddleware(),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		errorHandlingMiddleware(logger),
	)

	router.GET("/healthz", handler.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limit := rateLimitMiddleware(cfg.HTTP.RateLimit, logger)
	sessions := sessionMiddleware(handler.historySvc, cfg.Session.CookieName, cfg.Session.TTL)

	router.GET("/", sessions, handler.Page)
	router.POST("/", sessions, limit, handler.SubmitForm)

	api := router.Group("/api/v1")
	{
		api.POST("/questions", sessions, limit, handler.Ask)
		api.GET("/history", sessions, handler.History)
		api.POST("/schema/refresh", handler.RefreshSchema)
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        router,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
