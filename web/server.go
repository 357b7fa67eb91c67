package web

import (
	"context"
	"net/http"
	"time"

	"multichat/catalog"
	"multichat/config"
	"multichat/web/format"
	"multichat/web/handlers"
	"multichat/web/middleware"
	"multichat/web/services"
	"multichat/web/views"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router     *gin.Engine
	logger     *zap.Logger
	config     *config.Config
	catalog    *catalog.Catalog
	workspaces *services.WorkspaceService
	backend    *handlers.BackendHandler

	rateLimiter *middleware.RateLimiter
	// callers of /chat share the loopback address
	backendLimiter *middleware.RateLimiter
}

// NewServer wires the client API for workspaces and the backend chat
// endpoint into one router.
func NewServer(cfg *config.Config, cat *catalog.Catalog, workspaces *services.WorkspaceService, backend *handlers.BackendHandler, logger *zap.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		// Add logger to context
		c.Set("logger", logger)
		c.Next()
	})
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(cfg.CORSAllowOrigins)))

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MessagesPerMinute: cfg.RateLimitMessagesPerMin,
		FilesPerHour:      cfg.RateLimitFilesPerHour,
		BurstSize:         cfg.RateLimitBurstSize,
		CleanupInterval:   10 * time.Minute,
	}, logger)
	backendLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MessagesPerMinute: cfg.BackendRateLimitPerMin,
		BurstSize:         max(1, cfg.BackendRateLimitPerMin/10),
		CleanupInterval:   10 * time.Minute,
	}, logger)

	// buckets are keyed by client id
	workspaces.OnEvict(rateLimiter.Forget)

	server := &Server{
		router:         router,
		logger:         logger,
		config:         cfg,
		catalog:        cat,
		workspaces:     workspaces,
		backend:        backend,
		rateLimiter:    rateLimiter,
		backendLimiter: backendLimiter,
	}

	if err := server.setupRoutes(); err != nil {
		server.Close()
		return nil, err
	}
	return server, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() error {
	renderer, err := format.NewRenderer(1024)
	if err != nil {
		return err
	}

	s.router.StaticFS("/static", http.FS(views.Static()))

	// Backend endpoint, called server to server
	s.router.POST("/chat", middleware.RateLimitMiddleware(s.backendLimiter, "message"), s.backend.Chat)

	clientHandler := handlers.NewClientHandler(s.workspaces, s.catalog, renderer, services.NewStreamService(s.logger), s.logger)

	client := s.router.Group("/")
	client.Use(middleware.ClientMiddleware())
	client.GET("/", clientHandler.Index)
	client.GET("/fragments/app", clientHandler.Fragment)

	api := client.Group("/api")
	api.GET("/models", clientHandler.Models)
	api.GET("/state", clientHandler.State)
	api.GET("/events", clientHandler.Events)
	api.POST("/sessions", clientHandler.CreateSession)
	api.POST("/sessions/:id/select", clientHandler.SelectSession)
	api.PUT("/composer", clientHandler.UpdateComposer)
	api.POST("/composer/attachment", middleware.RateLimitMiddleware(s.rateLimiter, "file"), clientHandler.UploadAttachment)
	api.DELETE("/composer/attachment", clientHandler.RemoveAttachment)
	api.POST("/send", middleware.RateLimitMiddleware(s.rateLimiter, "message"), clientHandler.Send)
	api.DELETE("/error", clientHandler.DismissError)
	return nil
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))
	defer s.Close()

	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed to start", zap.Error(err))
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.logger.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases background resources when the server was never started.
func (s *Server) Close() {
	s.rateLimiter.Stop()
	s.backendLimiter.Stop()
}
