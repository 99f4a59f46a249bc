package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"datachat/config"
	"datachat/web/handlers"
	"datachat/web/middleware"
	"datachat/web/services"
)

type Server struct {
	router  *gin.Engine
	logger  *zap.Logger
	config  *config.Config
	limiter *middleware.SessionRateLimiter
}

func NewServer(
	chatService *services.ChatService,
	sessionService *services.SessionService,
	uploadService *services.UploadService,
	logger *zap.Logger,
	cfg *config.Config,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		c.Set("logger", logger)
		c.Next()
	})
	router.Use(middleware.SessionMiddleware())

	limiter := middleware.NewSessionRateLimiter(middleware.RateLimiterConfig{
		MessagesPerMinute: cfg.RateLimitMessagesPerMin,
		FilesPerHour:      cfg.RateLimitFilesPerHour,
		BurstSize:         cfg.RateLimitBurstSize,
		CleanupInterval:   10 * time.Minute,
	}, logger)

	server := &Server{
		router:  router,
		logger:  logger,
		config:  cfg,
		limiter: limiter,
	}

	chatHandler := handlers.NewChatHandler(chatService, sessionService, uploadService, logger)
	server.setupRoutes(chatHandler)
	return server
}

func (s *Server) setupRoutes(chatHandler *handlers.ChatHandler) {
	s.router.Static("/uploads", "./uploads")

	api := s.router.Group("/api")
	api.GET("/sessions", chatHandler.ListSessions)
	api.GET("/sessions/:sessionID/messages", chatHandler.GetMessages)
	api.DELETE("/sessions/:sessionID", chatHandler.DeleteSession)

	api.POST("/chat", middleware.RateLimitMiddleware(s.limiter, middleware.LimitMessage), chatHandler.SendMessage)
	api.POST("/chat/cancel", chatHandler.CancelMessage)
	api.POST("/upload", middleware.RateLimitMiddleware(s.limiter, middleware.LimitFile), chatHandler.Upload)
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))

	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()

	s.logger.Info("Shutting down web server")
	s.limiter.Stop()
	return srv.Shutdown(context.Background())
}
