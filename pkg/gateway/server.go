package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/database"
	"github.com/tickwire/tickwire/pkg/metrics"
	"github.com/tickwire/tickwire/pkg/version"
)

// Server is the gateway's HTTP front: the WebSocket endpoint plus health and
// metrics. All client traffic flows through /ws/market.
type Server struct {
	cfg     config.GatewayConfig
	db      *database.Client
	clients *ClientManager
	handler *RequestHandler
	log     *slog.Logger

	httpSrv *http.Server
}

func NewServer(cfg config.GatewayConfig, db *database.Client, clients *ClientManager, handler *RequestHandler) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:     cfg,
		db:      db,
		clients: clients,
		handler: handler,
		log:     slog.With("component", "gateway_server"),
	}

	router.GET("/ws/market", s.handleWS)
	router.GET("/healthz", s.handleHealth)
	router.GET("/version", s.handleVersion)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("Gateway HTTP server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and closes the remaining clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.clients.CloseAll(ctx)
	return s.httpSrv.Shutdown(ctx)
}

// handleWS upgrades the connection and runs its read loop until the peer
// goes away. The write side lives in the client's pump; this goroutine only
// reads.
func (s *Server) handleWS(c *gin.Context) {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.cfg.AllowedOrigins
	}

	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		s.log.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	ctx := c.Request.Context()
	client := s.clients.Register(ctx, conn)
	defer s.clients.Unregister(ctx, client.ID)

	s.readLoop(ctx, client, conn)
}

func (s *Server) readLoop(ctx context.Context, client *Client, conn *websocket.Conn) {
	for {
		msgType, raw, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.log.Debug("Client closed connection", "client_id", client.ID)
			} else if ctx.Err() == nil {
				s.log.Debug("Read failed", "client_id", client.ID, "error", err)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.handler.HandleFrame(ctx, client, raw)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := s.db.Health(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
		"clients":  s.clients.Count(),
	})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": version.AppName, "commit": version.GitCommit})
}
