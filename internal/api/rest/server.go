package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/api/websocket"
	"github.com/KevinKickass/EndpointRegistry/internal/auth"
	"github.com/KevinKickass/EndpointRegistry/internal/config"
	"github.com/KevinKickass/EndpointRegistry/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router     *gin.Engine
	lm         interfaces.LifecycleManager
	logger     *zap.Logger
	server     *http.Server
	wsHub      *websocket.Hub
	jwtHandler *auth.JWTHandler

	defaultPageSize int
	maxPageSize     int
}

// NewServer wires the REST surface. A nil jwtHandler disables authentication.
func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, jwtHandler *auth.JWTHandler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:          gin.New(),
		lm:              lm,
		logger:          logger,
		wsHub:           wsHub,
		jwtHandler:      jwtHandler,
		defaultPageSize: cfg.Registry.DefaultPageSize,
		maxPageSize:     cfg.Registry.MaxPageSize,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.History.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(s.lm.MetricsHandler()))

	v1 := s.router.Group("/api/v1")
	v1.Use(auth.Middleware(s.jwtHandler))
	{
		// ==================== ENDPOINTS ====================
		endpoints := v1.Group("/endpoints")
		{
			endpoints.GET("", auth.RequirePermission(auth.PermEndpointsRead), s.listEndpoints)
			endpoints.GET("/:id", auth.RequirePermission(auth.PermEndpointsRead), s.getEndpoint)

			// Permission depends on the variant kind, checked in the handler.
			endpoints.POST("/:id/history/next", auth.RequirePermission(auth.PermHistoryRead), s.nextHistory)
			endpoints.POST("/:id/history/:variant", s.executeHistory)
		}

		// ==================== HISTORY CATALOG ====================
		v1.GET("/history/variants", auth.RequirePermission(auth.PermHistoryRead), s.listVariants)

		// ==================== SYSTEM ====================
		v1.GET("/system/status", auth.RequirePermission(auth.PermEndpointsRead), s.getSystemStatus)
	}

	// Auth via first message when enabled
	s.router.GET("/api/v1/ws/live", s.wsLiveConnection)
	s.router.GET("/api/v1/ws/status", auth.Middleware(s.jwtHandler), auth.RequirePermission(auth.PermHistoryRead), s.wsStatus)
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
