package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/signaldesk/signaldesk/pkg/ai"
	"github.com/signaldesk/signaldesk/pkg/auth"
	"github.com/signaldesk/signaldesk/pkg/config"
	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/handler"
	"github.com/signaldesk/signaldesk/pkg/service"
	"github.com/signaldesk/signaldesk/pkg/utils"
	"github.com/signaldesk/signaldesk/pkg/ws"
)

type Server struct {
	ginEngine *gin.Engine
	upgrader  *websocket.Upgrader
	logger    *slog.Logger
	cfg       *config.AppConfig

	hub   *ws.Hub
	queue *service.AIQueueRegistry
	port  int
}

func NewServer(cfg *config.AppConfig, store *db.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost dev origins. Requests without
	// an Origin header are not browser CORS requests and pass through.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	server := &Server{
		ginEngine: ginEngine,
		upgrader:  upgrader,
		logger:    utils.GetLogger(),
		cfg:       cfg,
	}

	server.SetupRoutes(store)

	return server
}

func (s *Server) SetupRoutes(store *db.Store) {
	hub := ws.NewHub(s.logger)
	verifier := auth.NewVerifier(s.cfg.TokenSecret())
	aiClient := ai.NewClient(s.cfg.AIBaseURL(), s.cfg.AITimeout())

	access := service.NewAccessService(store, s.logger)
	presence := service.NewPresenceRegistry()
	queue := service.NewAIQueueRegistry(store, aiClient, hub, s.logger, s.cfg.DebounceWindow())
	insight := service.NewInsightService(store, aiClient, hub, s.logger)

	// Every debounce-driven flush also refreshes the channel's summary and
	// contradiction state.
	queue.SetDebounceHook(insight.Trigger)

	chat := service.NewChatService(store, hub, access, presence, queue, s.logger)

	s.hub = hub
	s.queue = queue

	s.ginEngine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rootGroup := s.ginEngine.Group("")
	handler.NewWSHandler(hub, chat, store, verifier, s.upgrader, s.logger).RegisterRoutes(rootGroup)

	// /api
	apiGroup := s.ginEngine.Group("/api")
	handler.NewReportHandler(store, access, insight, hub, verifier, s.logger).RegisterRoutes(apiGroup)
}

func (s *Server) Start(ctx context.Context) error {
	// SIGNALDESK_PORT overrides the configured port.
	port := s.cfg.Port()
	if v := os.Getenv("SIGNALDESK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			port = p
		} else {
			s.logger.Warn("Invalid SIGNALDESK_PORT value, falling back to config", "value", v)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), port)
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen first; an occupied port fails immediately.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = port
	}
	s.logger.Info("server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		s.queue.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}
