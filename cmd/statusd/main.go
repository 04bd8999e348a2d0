// Command statusd is a debug/introspection HTTP endpoint for a distgrid
// process group: health/readiness probes plus a Prometheus scrape target,
// in the teacher's gin router shape (adapted from
// internal/services/*/server packages).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/distgrid/distgrid/pkg/config"
	"github.com/distgrid/distgrid/pkg/logger"
)

type status struct {
	mu      sync.RWMutex
	ready   bool
	groupID string
	task    int
	size    int
}

func (s *status) setReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *status) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *status) Ready(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"group_id": s.groupID,
		"task":     s.task,
		"size":     s.size,
	})
}

func setupRouter(s *status, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggingMiddleware(log))

	router.GET("/health", s.Health)
	router.GET("/ready", s.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func main() {
	cfg, err := config.Load("statusd")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logger.ToLoggerConfig())

	s := &status{groupID: cfg.Group.ID, task: cfg.Group.Task, size: cfg.Group.Size}
	s.setReady(true)

	httpServer := &http.Server{
		Addr:    cfg.Backend.ListenAddr,
		Handler: setupRouter(s, log),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go func() {
		log.Info("statusd listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("statusd: server error", "error", err)
		}
	}()

	<-ctx.Done()
	s.setReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Println("statusd: shutdown error:", err)
	}
}
