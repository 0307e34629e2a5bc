package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Nayan-Bera/New-Practo-backend/internal/config"
	"github.com/Nayan-Bera/New-Practo-backend/internal/coordinator"
	"github.com/Nayan-Bera/New-Practo-backend/internal/session"
	"github.com/Nayan-Bera/New-Practo-backend/internal/websocket"
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// Server is the HTTP surface: the WebSocket upgrade endpoint plus health,
// metrics and the risk-report query.
type Server struct {
	httpServer *http.Server
	registry   *session.Registry
	co         *coordinator.Coordinator
	log        *zap.Logger
}

// NewServer builds the gin router and wraps it in an http.Server.
func NewServer(cfg config.ServerConfig, ws *websocket.Handler, registry *session.Registry, co *coordinator.Coordinator, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		registry: registry,
		co:       co,
		log:      log,
	}

	router.GET("/ws", gin.WrapH(ws))
	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/exams/:id/risk", s.riskReport)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// riskReport computes the derived low/medium/high level for every registered
// candidate of an exam.
func (s *Server) riskReport(c *gin.Context) {
	examID := c.Param("id")
	if !types.IsValidID(examID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": types.ErrInvalidExamID.Error()})
		return
	}

	report, err := s.co.RiskReport(c.Request.Context(), examID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"examId": examID, "riskLevels": report})
}

func (s *Server) health(c *gin.Context) {
	stats := s.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"sessions":    stats["active_sessions"],
		"connections": stats["total_connections"],
	})
}
