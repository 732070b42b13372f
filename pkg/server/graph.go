package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

type addNodeRequest struct {
	ID             string             `json:"id" validate:"omitempty,max=128"`
	Type           string             `json:"type" validate:"required,oneofci=input process ai output"`
	Label          string             `json:"label" validate:"max=200"`
	PromptTemplate string             `json:"promptTemplate"`
	InputRefs      []string           `json:"inputRefs"`
	Config         map[string]any     `json:"config"`
	Position       *workflow.Position `json:"position"`
}

type updateNodeRequest struct {
	PromptTemplate *string            `json:"promptTemplate"`
	Config         map[string]any     `json:"config"`
	Position       *workflow.Position `json:"position"`
}

type addEdgeRequest struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

type previewRequest struct {
	Template string            `json:"template" validate:"required"`
	Outputs  map[string]string `json:"outputs"`
	// RunID takes outputs from a stored run instead of Outputs.
	RunID string `json:"runId"`
}

// edit loads workflow id under its lock, applies fn through a Builder and
// saves the result.
func (s *Server) edit(ctx context.Context, id string, fn func(b *workflow.Builder) error) (*workflow.DAG, error) {
	defer s.lock(id)()
	d, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	b := workflow.NewBuilder(d)
	if err := fn(b); err != nil {
		return nil, err
	}
	if err := s.store.SaveWorkflow(ctx, b.DAG()); err != nil {
		return nil, err
	}
	return b.DAG(), nil
}

func (s *Server) addNode(c fiber.Ctx) error {
	var req addNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	var added *workflow.Node
	_, err := s.edit(c.Context(), c.Params("id"), func(b *workflow.Builder) error {
		n, err := b.AddNode(&workflow.Node{
			ID:             req.ID,
			Type:           workflow.NodeType(strings.ToLower(req.Type)),
			Label:          req.Label,
			PromptTemplate: req.PromptTemplate,
			InputRefs:      req.InputRefs,
			Config:         req.Config,
			Position:       req.Position,
		})
		added = n
		return err
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(added)
}

// updateNode edits a node and resets everything downstream of it to idle;
// the response lists those stale node ids.
func (s *Server) updateNode(c fiber.Ctx) error {
	var req updateNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	nodeID := c.Params("node")
	var stale []string
	d, err := s.edit(c.Context(), c.Params("id"), func(b *workflow.Builder) error {
		if req.PromptTemplate != nil {
			if err := b.UpdateInstruction(nodeID, *req.PromptTemplate); err != nil {
				return err
			}
		}
		if req.Config != nil {
			if err := b.UpdateConfig(nodeID, req.Config); err != nil {
				return err
			}
		}
		if req.Position != nil {
			if err := b.UpdatePosition(nodeID, *req.Position); err != nil {
				return err
			}
		}
		if b.DAG().Node(nodeID) == nil {
			return fmt.Errorf("%w: %q", workflow.ErrNodeNotFound, nodeID)
		}
		stale = b.Downstream(nodeID)
		for _, id := range stale {
			_ = b.UpdateStatus(id, workflow.StatusIdle)
		}
		return nil
	})
	if err != nil {
		return fail(c, err)
	}
	if stale == nil {
		stale = []string{}
	}
	return c.JSON(fiber.Map{"node": d.Node(nodeID), "stale": stale})
}

func (s *Server) deleteNode(c fiber.Ctx) error {
	_, err := s.edit(c.Context(), c.Params("id"), func(b *workflow.Builder) error {
		return b.DeleteNode(c.Params("node"))
	})
	if err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) addEdge(c fiber.Ctx) error {
	var req addEdgeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	var (
		added   *workflow.Edge
		verdict workflow.EdgeVerdict
	)
	_, err := s.edit(c.Context(), c.Params("id"), func(b *workflow.Builder) error {
		added, verdict = b.AddEdge(req.Source, req.Target)
		if !verdict.OK {
			return fmt.Errorf("%w: %s", workflow.ErrIllegalEdge, verdict.Reason)
		}
		return nil
	})
	if err != nil {
		if verdict.Reason != "" {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error(), "reason": verdict.Reason})
		}
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(added)
}

func (s *Server) deleteEdge(c fiber.Ctx) error {
	_, err := s.edit(c.Context(), c.Params("id"), func(b *workflow.Builder) error {
		return b.DeleteEdge(c.Params("edge"))
	})
	if err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// preview resolves a template against given outputs, or those of a stored run.
func (s *Server) preview(c fiber.Ctx) error {
	var req previewRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, err)
	}
	d, err := s.store.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	outputs := req.Outputs
	if req.RunID != "" {
		rec, err := s.store.GetRun(c.Context(), req.RunID)
		if err != nil {
			return fail(c, err)
		}
		outputs = rec.NodeOutputs
	}
	return c.JSON(fiber.Map{"resolved": workflow.ResolveReferences(req.Template, outputs, d.Nodes)})
}
