// Package server exposes the HTTP surface: session state, sample
// recording, job polling, invocation stats and operational probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fableforge/fableforge/internal/config"
	"github.com/fableforge/fableforge/internal/health"
	"github.com/fableforge/fableforge/internal/jobs"
	"github.com/fableforge/fableforge/internal/observability"
	"github.com/fableforge/fableforge/internal/orchestrator"
	"github.com/fableforge/fableforge/internal/session"
)

var ginModeOnce sync.Once

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config       *config.Config
	Logger       observability.Logger
	Orchestrator *orchestrator.Orchestrator
	Tracker      *session.Tracker
	Runner       *jobs.Runner
	Checker      *health.Checker
	Metrics      *prometheus.Registry

	// CloneOps maps a session category to the operation launched when its
	// threshold is reached.
	CloneOps map[string]orchestrator.Operation
}

// Server hosts the API on one port and Prometheus metrics on another.
type Server struct {
	deps          Deps
	engine        *gin.Engine
	httpServer    *http.Server
	metricsServer *http.Server
	categories    []string
}

// New assembles the server and registers all routes.
func New(deps Deps) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(Recovery(deps.Logger), RequestID(), Logging(deps.Logger))

	categories := make([]string, 0, len(deps.CloneOps))
	for category := range deps.CloneOps {
		categories = append(categories, category)
	}

	s := &Server{
		deps:       deps,
		engine:     engine,
		categories: categories,
	}
	s.routes()

	cfg := deps.Config
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", gin.WrapF(s.deps.Checker.HealthHandler()))
	s.engine.GET("/readyz", gin.WrapF(s.deps.Checker.ReadinessHandler()))

	v1 := s.engine.Group("/v1")
	v1.GET("/stats", s.handleAllStats)
	v1.GET("/stats/:operation", s.handleStats)
	v1.GET("/sessions/:userID", s.handleSession)
	v1.POST("/sessions/:userID/:category/samples", s.handleRecordSample)
	v1.GET("/jobs/:id", s.handleJob)
}

// Engine returns the gin engine, used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) handleAllStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Orchestrator.AllStats())
}

func (s *Server) handleStats(c *gin.Context) {
	operation := c.Param("operation")
	c.JSON(http.StatusOK, s.deps.Orchestrator.Stats(operation))
}

func (s *Server) handleSession(c *gin.Context) {
	userID := c.Param("userID")

	state, err := s.deps.Tracker.Hydrate(c.Request.Context(), userID, s.categories)
	if err != nil {
		s.deps.Logger.WithContext(c.Request.Context()).Error("hydrating session",
			observability.String("user_id", userID),
			observability.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session state"})
		return
	}
	c.JSON(http.StatusOK, state)
}

type recordSampleRequest struct {
	SampleID string         `json:"sampleId" binding:"required"`
	Payload  map[string]any `json:"payload"`
}

// handleRecordSample records a qualifying sample and, when the pair
// crosses the threshold with no clone in flight, launches a background
// clone job. The in-progress guard is acquired before the job is
// submitted so concurrent recorders cannot launch two clones.
func (s *Server) handleRecordSample(c *gin.Context) {
	userID := c.Param("userID")
	category := c.Param("category")
	ctx := c.Request.Context()

	op, known := s.deps.CloneOps[category]
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown category"})
		return
	}

	var body recordSampleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	count, err := s.deps.Tracker.Increment(ctx, userID, category, body.SampleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record sample"})
		return
	}

	resp := gin.H{"distinctSamples": count, "triggered": false}

	trigger, err := s.deps.Tracker.ShouldTrigger(ctx, userID, category)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to evaluate threshold"})
		return
	}
	if trigger {
		won, err := s.deps.Tracker.MarkInProgress(ctx, userID, category)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start clone"})
			return
		}
		if won {
			job := s.deps.Runner.Submit(ctx, op, orchestrator.CacheOptions{},
				&orchestrator.Request{
					Operation: op.Name,
					RawPayload: map[string]any{
						"userId":   userID,
						"category": category,
						"payload":  body.Payload,
					},
				},
				&jobs.Completion{UserID: userID, Category: category},
			)
			resp["triggered"] = true
			resp["jobId"] = job.ID
		}
	}

	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) handleJob(c *gin.Context) {
	job, err := s.deps.Runner.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Start runs the API and metrics listeners. It blocks until one of them
// fails or the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.deps.Logger.Info("http server starting", observability.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		s.deps.Logger.Info("metrics server starting", observability.String("addr", s.metricsServer.Addr))
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
