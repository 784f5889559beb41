package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/events"
	"github.com/worldgate-project/worldgate/internal/network"
	"github.com/worldgate-project/worldgate/internal/session"
	"github.com/worldgate-project/worldgate/internal/telemetry"
	"github.com/worldgate-project/worldgate/internal/util"
)

// Server is the admin REST server.
type Server struct {
	cfg      *config.Config
	bus      *events.EventBus
	registry *session.Registry
	world    telemetry.WorldStats
	counters *telemetry.Counters
	log      zerolog.Logger

	startedAt  time.Time
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the admin API server.
func NewServer(cfg *config.Config, bus *events.EventBus, registry *session.Registry, world telemetry.WorldStats, counters *telemetry.Counters) *Server {
	if cfg.App.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:       cfg,
		bus:       bus,
		registry:  registry,
		world:     world,
		counters:  counters,
		log:       util.ComponentLogger("api"),
		startedAt: time.Now(),
	}
}

// Start serves the API until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf("%s:%d", s.cfg.Realm.BindAddr, s.cfg.Realm.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sec := s.cfg.App.Security
	if sec.TLSEnabled {
		if !util.FileExists(sec.TLSCertFile) || !util.FileExists(sec.TLSKeyFile) {
			if err := util.GenerateSelfSignedCert(sec.TLSCertFile, sec.TLSKeyFile); err != nil {
				return fmt.Errorf("failed to generate API certificate: %w", err)
			}
		}
		cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.log.Info().Str("addr", addr).Bool("tls", sec.TLSEnabled).Msg("admin API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if sec.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.App.Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	auth := NewAuthMiddleware(s.cfg)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
	}

	admin := router.Group("/api")
	admin.Use(auth.RequireToken())
	{
		admin.GET("/status", s.handleStatus)
		admin.GET("/sessions", s.handleSessions)
		admin.POST("/sessions/:account/kick", s.handleKick)
		admin.POST("/announce", s.handleAnnounce)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pong": time.Now().Unix()})
}

// handleStatus reports realm identity, uptime, session counters, and
// host load.
func (s *Server) handleStatus(c *gin.Context) {
	live, peak, total := s.registry.Stats()

	status := gin.H{
		"realm":          s.cfg.Realm.Name,
		"uptime_sec":     int64(time.Since(s.startedAt).Seconds()),
		"sessions_live":  live,
		"sessions_peak":  peak,
		"sessions_total": total,
		"ticks":          s.world.Ticks(),
		"packets":        s.world.PacketsProcessed(),
		"system":         util.GetSystemInfo(),
	}
	if s.counters != nil {
		status["counters"] = s.counters.Snapshot()
	}
	if cpuPct, err := util.GetCPUUsage(); err == nil {
		status["cpu_percent"] = cpuPct
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memory"] = mem
	}

	c.JSON(http.StatusOK, status)
}

// sessionInfo is one row of the live session listing.
type sessionInfo struct {
	ConnID      string `json:"conn_id"`
	AccountID   uint32 `json:"account_id"`
	AccountName string `json:"account_name"`
	RemoteIP    string `json:"remote_ip"`
	Build       uint32 `json:"build"`
	Security    uint32 `json:"security"`
	Player      string `json:"player,omitempty"`
	Level       uint32 `json:"level,omitempty"`
	Zone        uint32 `json:"zone,omitempty"`
}

func (s *Server) handleSessions(c *gin.Context) {
	snapshot := s.registry.Snapshot()
	list := make([]sessionInfo, 0, len(snapshot))
	for _, sess := range snapshot {
		info := sessionInfo{
			ConnID:      sess.ConnID.String(),
			AccountID:   sess.AccountID,
			AccountName: sess.AccountName,
			RemoteIP:    sess.RemoteIP,
			Build:       sess.Build,
			Security:    uint32(sess.Security),
		}
		if sess.Player != nil {
			info.Player = sess.Player.Name
			info.Level = sess.Player.Level
			info.Zone = sess.Player.Zone
		}
		list = append(list, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": list,
		"total":    len(list),
	})
}

func (s *Server) handleKick(c *gin.Context) {
	name := c.Param("account")

	var target *session.Session
	for _, sess := range s.registry.Snapshot() {
		if strings.EqualFold(sess.AccountName, name) {
			target = sess
			break
		}
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such session", "account": name})
		return
	}

	target.Kick("kicked by an operator")
	s.log.Info().Str("account", target.AccountName).Msg("session kicked via API")

	c.JSON(http.StatusOK, gin.H{
		"kicked":  true,
		"account": target.AccountName,
	})
}

type announceRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleAnnounce(c *gin.Context) {
	var req announceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	s.bus.Emit(c.Request.Context(), events.Event{
		Type:    events.EventAnnounce,
		Source:  "api",
		Payload: events.AnnouncePayload{Text: req.Text},
	})

	c.JSON(http.StatusOK, gin.H{"announced": true})
}
