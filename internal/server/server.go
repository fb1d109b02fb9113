// Package server exposes the HTTP trigger surface and the daily timer that
// both invoke the same pipeline run.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trendscan/internal/faults"
	"trendscan/internal/pipeline"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Runner is the single entry point both trigger paths share.
type Runner interface {
	Run(ctx context.Context, scanDate string) (*pipeline.Summary, error)
}

type Server struct {
	runner Runner
	logger *zap.Logger
	router *gin.Engine
}

func New(runner Runner, logger *zap.Logger, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		runner: runner,
		logger: logger,
		router: gin.New(),
	}

	s.router.Use(gin.Recovery())
	s.router.GET("/healthz", s.health)
	s.router.POST("/run", s.run)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("http trigger listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// run triggers a pipeline run. By default the run is handed off to a
// background goroutine and the response only acknowledges acceptance; with
// ?wait=1 the handler blocks until the run completes and returns its
// summary. Overlapping runs for the same date are safe: ingestion is
// idempotent and records already claimed are no longer pending.
func (s *Server) run(c *gin.Context) {
	scanDate := c.Query("date")
	if scanDate == "" {
		scanDate = time.Now().Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, scanDate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid date %q, want YYYY-MM-DD", scanDate)})
		return
	}

	if c.Query("wait") == "" {
		go func() {
			if _, err := s.runner.Run(context.Background(), scanDate); err != nil {
				s.logger.Error("background run failed", zap.String("scan_date", scanDate), zap.Error(err))
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "scan_date": scanDate})
		return
	}

	summary, err := s.runner.Run(c.Request.Context(), scanDate)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, faults.ErrUpstreamUnavailable) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error(), "summary": summary})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// RunDaily fires one pipeline run per day at the given local time ("HH:MM")
// until the context is cancelled. The timer path is silent toward the
// caller; outcomes are communicated through the messaging sink and the log.
func RunDaily(ctx context.Context, runner Runner, at string, logger *zap.Logger) error {
	schedule, err := time.Parse("15:04", at)
	if err != nil {
		return fmt.Errorf("invalid schedule %q, want HH:MM: %w", at, faults.ErrConfiguration)
	}

	for {
		next := nextOccurrence(time.Now(), schedule.Hour(), schedule.Minute())
		logger.Info("scheduled next run", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		scanDate := time.Now().Format(time.DateOnly)
		if _, err := runner.Run(ctx, scanDate); err != nil {
			logger.Error("scheduled run failed", zap.String("scan_date", scanDate), zap.Error(err))
		}
	}
}

func nextOccurrence(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
