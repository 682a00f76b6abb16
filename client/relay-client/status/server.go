package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/uploading"
	"github.com/gin-gonic/gin"
)

// StatusSource produces the relay status report
type StatusSource interface {
	Status() Report
}

// QuarantineController lists and replays permanently failed records
type QuarantineController interface {
	List() []models.CaptureRecord
	Replay(ctx context.Context, id string) error
	ReplayAll(ctx context.Context) (int, error)
}

// ConnectivityController exposes manual network actions
type ConnectivityController interface {
	Reconnect(ctx context.Context) bool
	SwitchInterface(ctx context.Context, it models.InterfaceType) bool
	State() models.ConnectivityState
}

// Server is the local HTTP status and operator surface
type Server struct {
	logger       logging.Logger
	source       StatusSource
	quarantine   QuarantineController
	connectivity ConnectivityController
	router       *gin.Engine
	httpServer   *http.Server
	addr         string
}

// NewServer creates the status server and registers its routes
func NewServer(logger logging.Logger, addr, token string, source StatusSource, quarantine QuarantineController, connectivity ConnectivityController) *Server {
	if logger == nil {
		logger = logging.NopLogger
	}

	s := &Server{
		logger:       logger,
		source:       source,
		quarantine:   quarantine,
		connectivity: connectivity,
		router:       newEngine(),
		addr:         addr,
	}

	s.router.Use(gin.Recovery())
	s.setupRoutes(NewAuthMiddleware(logger, token))
	return s
}

func (s *Server) setupRoutes(auth *AuthMiddleware) {
	s.router.GET("/health", s.getHealth)

	api := s.router.Group("/api")
	api.Use(auth.RequireAuth())
	api.GET("/status", s.getStatus)
	api.GET("/quarantine", s.listQuarantine)
	api.POST("/quarantine/replay", s.replayAll)
	api.POST("/quarantine/:id/replay", s.replayOne)
	api.POST("/connectivity/reconnect", s.reconnect)
	api.POST("/connectivity/interface/:type", s.switchInterface)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Status server listening", "addr", listener.Addr().String())
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// getHealth handles GET /health
func (s *Server) getHealth(c *gin.Context) {
	report := s.source.Status()

	code := http.StatusOK
	status := "healthy"
	if report.State != "running" {
		code = http.StatusServiceUnavailable
		status = "unavailable"
	} else if report.Health != nil && report.Health.Severity != models.SeverityHealthy {
		status = string(report.Health.Severity)
	}

	c.JSON(code, gin.H{
		"status":    status,
		"state":     report.State,
		"connected": report.Connectivity.Connected,
		"timestamp": time.Now().UTC(),
	})
}

// getStatus handles GET /api/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Status())
}

// listQuarantine handles GET /api/quarantine
func (s *Server) listQuarantine(c *gin.Context) {
	records := s.quarantine.List()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

// replayAll handles POST /api/quarantine/replay
func (s *Server) replayAll(c *gin.Context) {
	replayed, err := s.quarantine.ReplayAll(c.Request.Context())
	response := gin.H{"replayed": replayed}
	if err != nil {
		s.logger.Warn("Some quarantined records could not be replayed", "error", err)
		response["error"] = err.Error()
	}
	s.logger.Info("Quarantine replay requested", "replayed", replayed)
	c.JSON(http.StatusOK, response)
}

// replayOne handles POST /api/quarantine/:id/replay
func (s *Server) replayOne(c *gin.Context) {
	id := c.Param("id")

	err := s.quarantine.Replay(c.Request.Context(), id)
	switch {
	case err == nil:
		s.logger.Info("Quarantined record replayed", "id", id)
		c.JSON(http.StatusOK, gin.H{"replayed": id})
	case errors.Is(err, uploading.ErrNotQuarantined):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, uploading.ErrFileGone):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Failed to replay record", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to replay record"})
	}
}

// reconnect handles POST /api/connectivity/reconnect
func (s *Server) reconnect(c *gin.Context) {
	s.logger.Info("Manual reconnect requested")
	ok := s.connectivity.Reconnect(c.Request.Context())
	s.respondConnectivity(c, ok)
}

// switchInterface handles POST /api/connectivity/interface/:type
func (s *Server) switchInterface(c *gin.Context) {
	it, err := models.ParseInterfaceType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("Manual interface switch requested", "interface", it)
	ok := s.connectivity.SwitchInterface(c.Request.Context(), it)
	s.respondConnectivity(c, ok)
}

func (s *Server) respondConnectivity(c *gin.Context, ok bool) {
	code := http.StatusOK
	if !ok {
		code = http.StatusBadGateway
	}
	c.JSON(code, gin.H{
		"success":      ok,
		"connectivity": s.connectivity.State(),
	})
}
