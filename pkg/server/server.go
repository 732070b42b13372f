// Package server exposes workflows, runs and the planner over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/ravi-parthasarathy/opal/pkg/metrics"
	"github.com/ravi-parthasarathy/opal/pkg/planner"
	"github.com/ravi-parthasarathy/opal/pkg/store"
	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

// Server is the HTTP API over a Store, an Engine and an optional planner.
type Server struct {
	app       *fiber.App
	store     store.Store
	engine    *workflow.Engine
	architect *planner.Architect
	metrics   *metrics.Registry
	logger    *slog.Logger

	// locks serialises mutations and runs per workflow id. Entries are never
	// removed, so every request for an id contends on the same mutex.
	locks sync.Map
}

// Option configures a Server.
type Option func(*Server)

// WithPlanner enables POST /api/plan.
func WithPlanner(a *planner.Architect) Option { return func(s *Server) { s.architect = a } }

// WithMetrics records request metrics and serves them at /metrics.
func WithMetrics(m *metrics.Registry) Option { return func(s *Server) { s.metrics = m } }

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// structValidator plugs validator/v10 into fiber's binder.
type structValidator struct {
	validate *validator.Validate
}

func (v *structValidator) Validate(out any) error {
	return v.validate.Struct(out)
}

// New builds the server and registers every route.
func New(st store.Store, eng *workflow.Engine, opts ...Option) *Server {
	s := &Server{store: st, engine: eng}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.app = fiber.New(fiber.Config{
		AppName:         "opal",
		StructValidator: &structValidator{validate: validator.New()},
	})
	s.app.Use(s.observe)
	s.app.Use(recoverer.New())
	s.routes()
	return s
}

func (s *Server) routes() {
	app := s.app

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	api := app.Group("/api")

	// ── Workflows ─────────────────────────────────────────────────────
	api.Get("/workflows", s.listWorkflows)
	api.Post("/workflows", s.createWorkflow)
	api.Get("/workflows/:id", s.getWorkflow)
	api.Put("/workflows/:id", s.replaceWorkflow)
	api.Delete("/workflows/:id", s.deleteWorkflow)
	api.Get("/workflows/:id/lint", s.lintWorkflow)
	api.Post("/plan", s.plan)

	// ── Graph editing ─────────────────────────────────────────────────
	api.Post("/workflows/:id/nodes", s.addNode)
	api.Patch("/workflows/:id/nodes/:node", s.updateNode)
	api.Delete("/workflows/:id/nodes/:node", s.deleteNode)
	api.Post("/workflows/:id/edges", s.addEdge)
	api.Delete("/workflows/:id/edges/:edge", s.deleteEdge)
	api.Post("/workflows/:id/preview", s.preview)

	// ── Runs ──────────────────────────────────────────────────────────
	api.Post("/workflows/:id/runs", s.run)
	api.Get("/workflows/:id/runs", s.listRuns)
	api.Get("/runs/:id", s.getRun)
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// observe logs each request and records it in the metrics registry.
func (s *Server) observe(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	duration := time.Since(start)

	status := c.Response().StatusCode()
	if err != nil {
		status = fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}
	path := c.Route().Path

	s.logger.Info("http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"duration", duration,
	)
	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(c.Method(), path, strconv.Itoa(status), duration)
	}
	return err
}

// fail writes err as a JSON error with a status derived from its kind.
func fail(c fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body: " + err.Error()})
}

func statusFor(err error) int {
	var (
		invalid *workflow.InvalidGraphError
		cyclic  *workflow.CyclicGraphError
	)
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, workflow.ErrNodeNotFound),
		errors.Is(err, workflow.ErrEdgeNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, workflow.ErrDuplicateNode),
		errors.Is(err, workflow.ErrDuplicateInput),
		errors.Is(err, workflow.ErrDuplicateOutput),
		errors.Is(err, workflow.ErrUnknownNodeType),
		errors.Is(err, workflow.ErrIllegalEdge),
		errors.As(err, &invalid),
		errors.As(err, &cyclic):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, planner.ErrNoPlan):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}
