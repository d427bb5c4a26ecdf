// Package server exposes the chat service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/legalsathi/internal/chat"
	"github.com/xaenox/legalsathi/internal/metrics"
	"go.uber.org/zap"
)

type Config struct {
	Addr       string
	CORSOrigin string
	// RateLimit is the sustained number of LLM requests per second allowed per user
	RateLimit      float64
	RateBurst      int
	MaxUploadBytes int64
}

// PDFFiles opens generated PDFs by name
type PDFFiles interface {
	Open(name string) (*os.File, error)
}

type Server struct {
	chat    *chat.Service
	pdfs    PDFFiles
	metrics *metrics.Metrics
	limiter *limiterSet
	cfg     Config
	logger  *zap.Logger

	engine *gin.Engine
	http   *http.Server
}

func New(cfg Config, svc *chat.Service, pdfs PDFFiles, m *metrics.Metrics, logger *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":10000"
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		chat:    svc,
		pdfs:    pdfs,
		metrics: m,
		limiter: newLimiterSet(cfg.RateLimit, cfg.RateBurst),
		cfg:     cfg,
		logger:  logger,
	}
	s.engine = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		s.recovery(),
		requestID(),
		s.accessLog(),
		s.observe(),
		s.cors(),
	)

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "LegalSathi backend active")
	})
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/download/:filename", s.download)

	api := r.Group("/api")
	{
		api.GET("/history/:uid", s.history)
		api.GET("/library/:uid", s.library)
		api.GET("/conversations/:uid", s.conversations)
		api.GET("/conversation/:id", s.conversation)
		api.DELETE("/conversation/:id", s.deleteConversation)
		api.POST("/conversation/:id/regenerate", s.regenerate)
		api.POST("/newchat/:uid", s.newChat)
		api.POST("/chat", s.sendChat)
		api.POST("/stream_chat", s.streamChat)
		api.POST("/upload", s.upload)
		api.POST("/gst/calc", s.gstCalc)
		api.GET("/gst/tips", s.gstTips)
	}
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
