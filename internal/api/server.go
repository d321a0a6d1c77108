package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/connector"
	"github.com/wlnet/metaclient/internal/db"
	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/health"
	"github.com/wlnet/metaclient/internal/protocol"
)

// Controller is what the API drives. *connector.MetaserverConnector
// implements it.
type Controller interface {
	Status() connector.Status
	Login(ctx context.Context) error
	Logout(ctx context.Context, reason string) error
	Games(ctx context.Context) ([]protocol.GameListing, error)
	Clients(ctx context.Context) ([]protocol.ClientListing, error)
	HostGame(ctx context.Context, name string) error
	JoinGame(ctx context.Context, name string) error
	StartGame(ctx context.Context) error
	LeaveGame(ctx context.Context) error
	SendChat(ctx context.Context, message, recipient string) error
	SendAdminCommand(ctx context.Context, command string, args ...string) error
}

// HistoryStore serves the history endpoints. *db.HistoryDatabase
// implements it.
type HistoryStore interface {
	RecentChat(limit int) ([]db.ChatRecord, error)
	RecentNotices(limit int) ([]db.NoticeRecord, error)
	RecentSessions(limit int) ([]db.SessionRecord, error)
}

// HealthReporter serves the health endpoint. *health.Manager implements it.
type HealthReporter interface {
	Results() []health.Result
}

var (
	_ Controller     = (*connector.MetaserverConnector)(nil)
	_ HistoryStore   = (*db.HistoryDatabase)(nil)
	_ HealthReporter = (*health.Manager)(nil)
)

// lobbyWait bounds how long a lobby read waits for a fresh list.
const lobbyWait = 3 * time.Second

// Server is the local REST API of the client.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	ctl      Controller
	history  HistoryStore
	health   HealthReporter
	hub      *Hub

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. history may be nil when the history
// store is disabled.
func NewServer(cfg *config.Config, eventBus *events.EventBus, ctl Controller, history HistoryStore) *Server {
	// Set Gin mode based on log level
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		ctl:      ctl,
		history:  history,
		hub:      NewHub(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetHealth installs the health check source. It must be called before
// Start.
func (s *Server) SetHealth(h HealthReporter) {
	s.health = h
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	addr := fmt.Sprintf("127.0.0.1:%d", apiCfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.hub.Attach(s.eventBus)
	defer s.hub.Detach(s.eventBus)

	log.Info().Str("addr", addr).Msg("REST API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	apiCfg := s.cfg.GetApplicationData().API

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	// Only routes that send metaserver commands are limited.
	limiter := NewCommandLimiter(apiCfg.RateLimitRPS)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/system", s.handleGetSystem)
		public.GET("/health", s.handleGetHealth)
	}

	sess := router.Group("/api/session", limiter.Middleware())
	{
		sess.GET("/status", s.handleGetStatus)
		sess.POST("/login", s.handleLogin)
		sess.POST("/logout", s.handleLogout)
		sess.POST("/chat", s.handleChat)
		sess.POST("/cmd", s.handleAdminCommand)
	}

	lobby := router.Group("/api/lobby")
	{
		lobby.GET("/games", s.handleGetGames)
		lobby.GET("/clients", s.handleGetClients)
	}

	game := router.Group("/api/game", limiter.Middleware())
	{
		game.POST("/host", s.handleHostGame)
		game.POST("/join", s.handleJoinGame)
		game.POST("/start", s.handleStartGame)
		game.POST("/leave", s.handleLeaveGame)
	}

	history := router.Group("/api/history")
	{
		history.GET("/chat", s.handleGetChatHistory)
		history.GET("/notices", s.handleGetNotices)
		history.GET("/sessions", s.handleGetSessions)
	}

	router.GET("/api/events", s.handleEventStream)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
