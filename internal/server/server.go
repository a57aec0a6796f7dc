// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/KaramelBytes/abverdict/internal/config"
	"github.com/KaramelBytes/abverdict/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConfigStore persists uploaded configuration documents.
type ConfigStore interface {
	SaveAll(docs map[config.DocumentName][]byte) error
	Dir() string
}

// Server is the HTTP front end.
type Server struct {
	pipeline *pipeline.Pipeline
	store    ConfigStore
	logger   *slog.Logger
	engine   *gin.Engine
}

// New builds the server and its routes. store may be nil, in which case
// configuration uploads are refused.
func New(p *pipeline.Pipeline, store ConfigStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{pipeline: p, store: store, logger: logger}

	r := gin.New()
	r.MaxMultipartMemory = maxUpload
	r.Use(gin.Recovery(), requestID(), observe(logger), cors())
	r.GET("/ping", handlePing)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/analyze-request", s.handleAnalyzeRequest)
		api.POST("/compare", s.handleCompare)
		api.POST("/deep-dive-query", s.handleDeepDive)
		api.POST("/upload-config", s.handleUploadConfig)
	}
	s.engine = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
