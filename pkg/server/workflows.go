package server

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

type workflowRequest struct {
	Name  string           `json:"name" validate:"max=200"`
	Nodes []*workflow.Node `json:"nodes" validate:"max=500,dive,required"`
	Edges []*workflow.Edge `json:"edges" validate:"dive,required"`
}

func (r *workflowRequest) dag(id string) (*workflow.DAG, error) {
	for _, n := range r.Nodes {
		if !workflow.NodeType(strings.ToLower(string(n.Type))).Valid() {
			return nil, fmt.Errorf("%w: %q", workflow.ErrUnknownNodeType, n.Type)
		}
	}
	return workflow.FromPlan(&workflow.DAG{ID: id, Name: r.Name, Nodes: r.Nodes, Edges: r.Edges}), nil
}

type planRequest struct {
	Prompt string `json:"prompt" validate:"required,max=8000"`
}

func (s *Server) listWorkflows(c fiber.Ctx) error {
	list, err := s.store.ListWorkflows(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(list)
}

func (s *Server) createWorkflow(c fiber.Ctx) error {
	var req workflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	d, err := req.dag("")
	if err != nil {
		return fail(c, err)
	}
	if err := s.store.SaveWorkflow(c.Context(), d); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

func (s *Server) getWorkflow(c fiber.Ctx) error {
	d, err := s.store.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(d)
}

func (s *Server) replaceWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	var req workflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	defer s.lock(id)()

	old, err := s.store.GetWorkflow(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	d, err := req.dag(id)
	if err != nil {
		return fail(c, err)
	}
	d.CreatedAt = old.CreatedAt
	if err := s.store.SaveWorkflow(c.Context(), d); err != nil {
		return fail(c, err)
	}
	return c.JSON(d)
}

func (s *Server) deleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	defer s.lock(id)()
	if err := s.store.DeleteWorkflow(c.Context(), id); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// lintWorkflow reports every structural problem without running anything.
func (s *Server) lintWorkflow(c fiber.Ctx) error {
	d, err := s.store.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	problems := workflow.Validate(d)
	if problems == nil {
		problems = []workflow.LintError{}
	}
	return c.JSON(fiber.Map{"valid": len(problems) == 0, "problems": problems})
}

func (s *Server) plan(c fiber.Ctx) error {
	if s.architect == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "planner not configured"})
	}
	var req planRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	d, err := s.architect.Plan(c.Context(), req.Prompt)
	if err != nil {
		return fail(c, err)
	}
	if err := s.store.SaveWorkflow(c.Context(), d); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}
