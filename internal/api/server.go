// Package api exposes the notification facade over HTTP.
package api

import (
	"context"
	"net/http"

	"notification-service/internal/common/auth"
	"notification-service/internal/common/logger"
	"notification-service/internal/models"
	"notification-service/internal/notification/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NotificationService is the part of the facade served over HTTP.
type NotificationService interface {
	Send(ctx context.Context, req service.SendRequest) (*models.Notification, error)
	Get(ctx context.Context, id string) (*models.Notification, error)
	ListForRecipient(ctx context.Context, recipientID string, page, limit int, status *models.Status) (*models.Page, error)
	MarkRead(ctx context.Context, id string) (*models.Notification, error)
	Delete(ctx context.Context, id string) (bool, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	Cleanup(ctx context.Context, days int) (int, error)
	Templates() []models.Template
	Healthy(ctx context.Context) error
}

// BusStatus reports the message bus connection state.
type BusStatus interface {
	Connected() bool
}

type Config struct {
	DefaultPageSize int
	MaxPageSize     int
}

type ServerDependencies struct {
	Service    NotificationService
	Authorizer *auth.Authorizer
	Bus        BusStatus
	Logger     logger.Logger
}

type Server struct {
	router *gin.Engine
	svc    NotificationService
	auth   *auth.Authorizer
	bus    BusStatus
	cfg    Config
	logger logger.Logger
}

func NewServer(cfg Config, deps ServerDependencies) *Server {
	if cfg.DefaultPageSize < 1 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}

	router := gin.New()
	s := &Server{
		router: router,
		svc:    deps.Service,
		auth:   deps.Authorizer,
		bus:    deps.Bus,
		cfg:    cfg,
		logger: logger.ForComponent(deps.Logger, "api"),
	}

	router.Use(s.recovery(), requestMetrics())
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	notifications := api.Group("/notifications")
	{
		notifications.POST("/send", s.serviceToken(), s.handleSend())

		authed := notifications.Group("", s.bearerAuth())
		authed.GET("/templates", s.handleTemplates())
		authed.POST("/cleanup", s.handleCleanup())
		authed.GET("/user/:user_id", s.handleListForUser())
		authed.GET("/user/:user_id/unread-count", s.handleUnreadCount())
		authed.GET("/:id", s.handleGet())
		authed.PUT("/:id/read", s.handleMarkRead())
		authed.DELETE("/:id", s.handleDelete())
	}

	s.router.GET("/health", s.handleHealth())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
