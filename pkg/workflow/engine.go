package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("opal.workflow")

// Recorder receives run and node measurements. metrics.Registry implements it.
// RunStarted is paired with exactly one RecordRun.
type Recorder interface {
	RunStarted()
	RecordRun(status string, duration time.Duration)
	RecordNode(nodeType, status string, duration time.Duration)
}

// RunResult is the structured outcome of one run. It is returned for
// failed runs too, carrying whatever outputs and logs accumulated.
type RunResult struct {
	RunID       string                `json:"runId"`
	Success     bool                  `json:"success"`
	FinalOutput string                `json:"finalOutput,omitempty"`
	NodeOutputs map[string]string     `json:"nodeOutputs"`
	Order       []string              `json:"order"`
	Statuses    map[string]NodeStatus `json:"statuses"`
	Logs        []LogEntry            `json:"logs"`
	Error       string                `json:"error,omitempty"`
	FailedNode  string                `json:"failedNode,omitempty"`
	StartedAt   time.Time             `json:"startedAt"`
	Duration    time.Duration         `json:"duration"`

	// Err is the typed error behind Error, if any.
	Err error `json:"-"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the slog logger that mirrors run logs.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithObserver streams log entries to obs as they are appended.
func WithObserver(obs Observer) Option { return func(e *Engine) { e.observer = obs } }

// WithRecorder reports run and node measurements to r.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithCheckpoint saves the run state to path after every successful node.
func WithCheckpoint(path string) Option { return func(e *Engine) { e.checkpointPath = path } }

// Engine executes workflow graphs one node at a time in topological order.
type Engine struct {
	handlerReg     HandlerRegistry
	logger         *slog.Logger
	observer       Observer
	recorder       Recorder
	checkpointPath string
}

// NewEngine creates an Engine backed by the given handler registry.
func NewEngine(reg HandlerRegistry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("handler registry must not be nil")
	}
	e := &Engine{handlerReg: reg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Execute runs d against the user input from a fresh run state.
func (e *Engine) Execute(ctx context.Context, d *DAG, input string) *RunResult {
	return e.run(ctx, d, input, NewRunState(d))
}

// Resume runs d reusing the outputs in state; nodes that already have an
// output are not executed again.
func (e *Engine) Resume(ctx context.Context, d *DAG, input string, state *RunState) *RunResult {
	if state == nil {
		state = NewRunState(d)
	}
	for _, n := range d.Nodes {
		if _, ok := state.Output(n.ID); !ok {
			state.SetStatus(n.ID, StatusIdle)
		}
	}
	return e.run(ctx, d, input, state)
}

func (e *Engine) run(ctx context.Context, d *DAG, input string, state *RunState) *RunResult {
	res := &RunResult{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := newRunLog(res.RunID, e.logger, e.observer)

	name := ""
	nodeCount := 0
	if d != nil {
		name, nodeCount = d.Name, len(d.Nodes)
	}
	if e.recorder != nil {
		e.recorder.RunStarted()
	}
	ctx, span := tracer.Start(ctx, "workflow.Run", trace.WithAttributes(
		attribute.String("workflow.run_id", res.RunID),
		attribute.String("workflow.name", name),
		attribute.Int("workflow.node_count", nodeCount),
	))
	defer span.End()

	finish := func(err error, failedNode string) *RunResult {
		res.NodeOutputs = state.Outputs()
		res.Statuses = state.Statuses()
		res.Duration = time.Since(res.StartedAt)
		status := "success"
		if err != nil {
			status = "error"
			res.Err = err
			res.Error = err.Error()
			res.FailedNode = failedNode
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			res.Success = true
			span.SetStatus(codes.Ok, "")
		}
		res.Logs = log.Entries()
		if e.recorder != nil {
			e.recorder.RecordRun(status, res.Duration)
		}
		return res
	}

	if d == nil {
		err := errors.New("workflow must not be nil")
		log.Append(LogError, err.Error(), "", "")
		return finish(err, "")
	}

	log.Append(LogInfo, fmt.Sprintf("Starting workflow %q", d.Name), "", "")

	if err := CheckRunnable(d); err != nil {
		log.Append(LogError, err.Error(), "", "")
		return finish(err, "")
	}

	order, err := TopologicalOrder(d)
	if err != nil {
		log.Append(LogError, err.Error(), "", "")
		return finish(err, "")
	}
	res.Order = order
	log.Append(LogInfo, "Execution order: "+strings.Join(order, " → "), "", "")

	rc := &RunContext{DAG: d, State: state, Input: input}
	for i, id := range order {
		// Respect context cancellation between nodes.
		select {
		case <-ctx.Done():
			cerr := fmt.Errorf("run cancelled before node %q: %w", id, ctx.Err())
			log.Append(LogError, cerr.Error(), id, "")
			return finish(cerr, "")
		default:
		}

		node := d.Node(id)
		if _, done := state.Output(id); done {
			log.Append(LogInfo, fmt.Sprintf("Skipping %s: output restored from checkpoint", displayName(node)), id, "")
			continue
		}

		log.Append(LogStep, fmt.Sprintf("Step %d/%d: %s (%s)", i+1, len(order), displayName(node), node.Type), id, "")
		out, nodeErr := e.executeNode(ctx, node, rc)
		if nodeErr != nil {
			log.Append(LogError, fmt.Sprintf("%s failed: %v", displayName(node), nodeErr), id, "")
			return finish(fmt.Errorf("node %q: %w", id, nodeErr), id)
		}
		log.Append(LogSuccess, fmt.Sprintf("%s completed", displayName(node)), id, Preview(out))

		// Checkpoint after every successful node execution.
		if e.checkpointPath != "" {
			if cpErr := state.SaveCheckpoint(e.checkpointPath); cpErr != nil {
				log.Append(LogError, fmt.Sprintf("save checkpoint: %v", cpErr), id, "")
				return finish(fmt.Errorf("node %q: save checkpoint: %w", id, cpErr), id)
			}
		}
	}

	outNode := d.FirstOfType(NodeTypeOutput)
	final, ok := state.Output(outNode.ID)
	if !ok {
		err := fmt.Errorf("output node %q produced no result", outNode.ID)
		log.Append(LogError, err.Error(), outNode.ID, "")
		return finish(err, outNode.ID)
	}
	res.FinalOutput = final
	log.Append(LogSuccess, "Workflow completed", "", Preview(final))
	return finish(nil, "")
}

// executeNode runs a single node with status tracking and a child span.
func (e *Engine) executeNode(ctx context.Context, node *Node, rc *RunContext) (string, error) {
	ctx, span := tracer.Start(ctx, node.ID, trace.WithAttributes(
		attribute.String("workflow.node", node.ID),
		attribute.String("workflow.node_type", string(node.Type)),
	))
	defer span.End()

	rc.State.SetStatus(node.ID, StatusRunning)
	start := time.Now()

	out, err := e.handle(ctx, node, rc)
	duration := time.Since(start)

	if err != nil {
		rc.State.SetStatus(node.ID, StatusError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.recordNode(node, "error", duration)
		return "", err
	}

	rc.State.SetOutput(node.ID, out)
	rc.State.SetStatus(node.ID, StatusSuccess)
	span.SetAttributes(attribute.Int("workflow.output_len", len(out)))
	e.recordNode(node, "success", duration)
	return out, nil
}

func (e *Engine) handle(ctx context.Context, node *Node, rc *RunContext) (out string, err error) {
	handler, err := e.handlerReg.Get(node.Type)
	if err != nil {
		return "", err
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("%s handler panicked: %v", node.Type, r)
		}
	}()
	return handler.Handle(ctx, node, rc)
}

func (e *Engine) recordNode(node *Node, status string, d time.Duration) {
	if e.recorder != nil {
		e.recorder.RecordNode(string(node.Type), status, d)
	}
}

func displayName(n *Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}
