package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/ravi-parthasarathy/opal/pkg/store"
	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

type runRequest struct {
	Input string `json:"input" validate:"max=100000"`
}

// run executes a workflow, persists the run record and copies the final
// node statuses onto the stored graph. Failed runs are still recorded.
func (s *Server) run(c fiber.Ctx) error {
	var req runRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	id := c.Params("id")
	defer s.lock(id)()

	d, err := s.store.GetWorkflow(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	res := s.engine.Execute(c.Context(), d, req.Input)
	rec := store.NewRunRecord(id, req.Input, res)
	if err := s.store.SaveRun(c.Context(), rec); err != nil {
		return fail(c, err)
	}

	b := workflow.NewBuilder(d)
	b.ApplyStatuses(res.Statuses)
	if err := s.store.SaveWorkflow(c.Context(), b.DAG()); err != nil {
		return fail(c, err)
	}

	status := fiber.StatusOK
	var (
		invalid *workflow.InvalidGraphError
		cyclic  *workflow.CyclicGraphError
	)
	if errors.As(res.Err, &invalid) || errors.As(res.Err, &cyclic) {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(rec)
}

func (s *Server) listRuns(c fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.store.GetWorkflow(c.Context(), id); err != nil {
		return fail(c, err)
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be a non-negative integer"})
		}
		limit = n
	}
	runs, err := s.store.ListRuns(c.Context(), id, limit)
	if err != nil {
		return fail(c, err)
	}
	if runs == nil {
		runs = []*store.RunRecord{}
	}
	return c.JSON(runs)
}

func (s *Server) getRun(c fiber.Ctx) error {
	rec, err := s.store.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(rec)
}
