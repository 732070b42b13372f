package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/opal/pkg/llm"
	"github.com/ravi-parthasarathy/opal/pkg/metrics"
	"github.com/ravi-parthasarathy/opal/pkg/planner"
	"github.com/ravi-parthasarathy/opal/pkg/store"
	"github.com/ravi-parthasarathy/opal/pkg/workflow"
	"github.com/ravi-parthasarathy/opal/pkg/workflow/handlers"
)

const planReply = "```json\n" + `{"name":"Echo","nodes":[
 {"id":"in","type":"input"},
 {"id":"shout","type":"ai","promptTemplate":"@in"},
 {"id":"out","type":"output"}]}` + "\n```"

type harness struct {
	srv     *Server
	store   *store.Memory
	metrics *metrics.Registry
}

func newHarness(t *testing.T, withPlanner bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	upper := llm.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		return strings.ToUpper(prompt), nil
	})
	eng, err := workflow.NewEngine(handlers.Default(upper), workflow.WithLogger(logger))
	require.NoError(t, err)

	h := &harness{store: store.NewMemory(), metrics: metrics.NewRegistry()}
	opts := []Option{WithLogger(logger), WithMetrics(h.metrics)}
	if withPlanner {
		gen := llm.GeneratorFunc(func(context.Context, string) (string, error) { return planReply, nil })
		opts = append(opts, WithPlanner(&planner.Architect{Generator: gen}))
	}
	h.srv = New(h.store, eng, opts...)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.srv.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

// createSummarizer stores input → ai → output with a synthesized chain.
func (h *harness) createSummarizer(t *testing.T) *workflow.DAG {
	t.Helper()
	code, body := h.do(t, http.MethodPost, "/api/workflows", map[string]any{
		"name": "Summarize",
		"nodes": []map[string]any{
			{"id": "in", "type": "input"},
			{"id": "sum", "type": "AI", "promptTemplate": "Summarize: @in"},
			{"id": "out", "type": "output"},
		},
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	return decode[*workflow.DAG](t, body)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, false)
	code, body := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestWorkflowCRUD(t *testing.T) {
	h := newHarness(t, false)
	d := h.createSummarizer(t)
	require.NotEmpty(t, d.ID)
	assert.Len(t, d.Edges, 2, "edges synthesized as a chain")
	assert.Equal(t, workflow.NodeTypeAI, d.Nodes[1].Type)

	code, body := h.do(t, http.MethodGet, "/api/workflows/"+d.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Summarize", decode[*workflow.DAG](t, body).Name)

	code, body = h.do(t, http.MethodGet, "/api/workflows", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]store.WorkflowSummary](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].NodeCount)

	code, body = h.do(t, http.MethodPut, "/api/workflows/"+d.ID, map[string]any{
		"name":  "Renamed",
		"nodes": []map[string]any{{"id": "in", "type": "input"}, {"id": "out", "type": "output"}},
	})
	require.Equal(t, http.StatusOK, code, string(body))
	replaced := decode[*workflow.DAG](t, body)
	assert.Equal(t, d.ID, replaced.ID)
	assert.Len(t, replaced.Nodes, 2)

	code, _ = h.do(t, http.MethodDelete, "/api/workflows/"+d.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(t, http.MethodGet, "/api/workflows/"+d.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(t, http.MethodPut, "/api/workflows/"+d.ID, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteWhileEditing(t *testing.T) {
	h := newHarness(t, false)
	d := h.createSummarizer(t)
	base := "/api/workflows/" + d.ID

	send := func(method, path, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := h.srv.App().Test(req)
		if err != nil {
			return 0
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	const editors = 8
	codes := make([]int, editors+1)
	var wg sync.WaitGroup
	for i := range editors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = send(http.MethodPost, base+"/nodes", `{"id":"p`+strconv.Itoa(i)+`","type":"process"}`)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		codes[editors] = send(http.MethodDelete, base, "")
	}()
	wg.Wait()

	assert.Equal(t, http.StatusNoContent, codes[editors])
	for i, code := range codes[:editors] {
		assert.Contains(t, []int{http.StatusCreated, http.StatusNotFound}, code, "editor %d", i)
	}
	code, _ := h.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(t, http.MethodPost, base+"/runs", map[string]string{"input": "x"})
	assert.Equal(t, http.StatusNotFound, code)

	_, kept := h.srv.locks.Load(d.ID)
	assert.True(t, kept, "lock entry survives delete")
}

func TestRecoversFromHandlerPanic(t *testing.T) {
	h := newHarness(t, false)
	h.srv.App().Get("/boom", func(fiber.Ctx) error { panic("boom") })

	code, _ := h.do(t, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, code)

	code, _ = h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code, "server keeps serving")

	_, body := h.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, string(body), `path="/boom",status="500"`)
}

func TestCreateWorkflowRejects(t *testing.T) {
	h := newHarness(t, false)

	code, _ := h.do(t, http.MethodPost, "/api/workflows", `{"nodes": [`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(t, http.MethodPost, "/api/workflows", map[string]any{
		"nodes": []map[string]any{{"id": "x", "type": "loop"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, string(body), "unknown node type")

	code, _ = h.do(t, http.MethodPost, "/api/workflows", map[string]any{"name": strings.Repeat("n", 300)})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRunWorkflow(t *testing.T) {
	h := newHarness(t, false)
	d := h.createSummarizer(t)

	code, body := h.do(t, http.MethodPost, "/api/workflows/"+d.ID+"/runs", map[string]string{"input": "hello world"})
	require.Equal(t, http.StatusOK, code, string(body))
	rec := decode[store.RunRecord](t, body)
	assert.True(t, rec.Success)
	assert.Equal(t, "SUMMARIZE: HELLO WORLD", rec.FinalOutput)
	assert.Equal(t, "hello world", rec.NodeOutputs["in"])
	assert.NotEmpty(t, rec.Logs)

	// Statuses are copied onto the stored graph.
	code, body = h.do(t, http.MethodGet, "/api/workflows/"+d.ID, nil)
	require.Equal(t, http.StatusOK, code)
	for _, n := range decode[*workflow.DAG](t, body).Nodes {
		assert.Equal(t, workflow.StatusSuccess, n.Status, n.ID)
	}

	code, body = h.do(t, http.MethodGet, "/api/runs/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, rec.FinalOutput, decode[store.RunRecord](t, body).FinalOutput)

	h.do(t, http.MethodPost, "/api/workflows/"+d.ID+"/runs", map[string]string{"input": "again"})
	code, body = h.do(t, http.MethodGet, "/api/workflows/"+d.ID+"/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	runs := decode[[]store.RunRecord](t, body)
	require.Len(t, runs, 1)
	assert.Equal(t, "again", runs[0].Input)

	code, _ = h.do(t, http.MethodGet, "/api/workflows/"+d.ID+"/runs?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(t, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRunInvalidGraphIsRecorded(t *testing.T) {
	h := newHarness(t, false)
	code, body := h.do(t, http.MethodPost, "/api/workflows", map[string]any{
		"nodes": []map[string]any{{"id": "in", "type": "input"}, {"id": "p", "type": "process"}},
	})
	require.Equal(t, http.StatusCreated, code)
	d := decode[*workflow.DAG](t, body)

	code, body = h.do(t, http.MethodPost, "/api/workflows/"+d.ID+"/runs", map[string]string{"input": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	rec := decode[store.RunRecord](t, body)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "output")

	runs, err := h.store.ListRuns(t.Context(), d.ID, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestGraphEditing(t *testing.T) {
	h := newHarness(t, false)
	d := h.createSummarizer(t)
	base := "/api/workflows/" + d.ID

	code, body := h.do(t, http.MethodPost, base+"/nodes", map[string]any{"id": "extra", "type": "Process"})
	require.Equal(t, http.StatusCreated, code, string(body))
	node := decode[workflow.Node](t, body)
	assert.Equal(t, workflow.NodeTypeProcess, node.Type)
	assert.NotNil(t, node.Position)

	code, _ = h.do(t, http.MethodPost, base+"/nodes", map[string]any{"type": "input"})
	assert.Equal(t, http.StatusUnprocessableEntity, code, "second input node")
	code, _ = h.do(t, http.MethodPost, base+"/nodes", map[string]any{"type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(t, http.MethodPost, base+"/edges", map[string]string{"source": "extra", "target": "in"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, workflow.ReasonToInput, decode[map[string]string](t, body)["reason"])

	code, body = h.do(t, http.MethodPost, base+"/edges", map[string]string{"source": "sum", "target": "extra"})
	require.Equal(t, http.StatusCreated, code, string(body))
	edge := decode[workflow.Edge](t, body)

	code, _ = h.do(t, http.MethodPost, base+"/edges", map[string]string{"source": "sum", "target": "extra"})
	assert.Equal(t, http.StatusUnprocessableEntity, code, "duplicate edge")

	code, _ = h.do(t, http.MethodDelete, base+"/edges/"+edge.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(t, http.MethodDelete, base+"/edges/"+edge.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(t, http.MethodDelete, base+"/nodes/extra", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(t, http.MethodDelete, base+"/nodes/extra", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(t, http.MethodPost, "/api/workflows/missing/nodes", map[string]any{"type": "ai"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUpdateNodeMarksDownstreamStale(t *testing.T) {
	h := newHarness(t, false)
	d := h.createSummarizer(t)
	base := "/api/workflows/" + d.ID
	h.do(t, http.MethodPost, base+"/runs", map[string]string{"input": "x"})

	code, body := h.do(t, http.MethodPatch, base+"/nodes/sum", map[string]any{
		"promptTemplate": "Shorter: @in",
		"config":         map[string]any{"model": "openai:gpt-4o"},
	})
	require.Equal(t, http.StatusOK, code, string(body))
	resp := decode[struct {
		Node  workflow.Node `json:"node"`
		Stale []string      `json:"stale"`
	}](t, body)
	assert.Equal(t, "Shorter: @in", resp.Node.PromptTemplate)
	assert.Equal(t, "openai:gpt-4o", resp.Node.Config["model"])
	assert.Equal(t, []string{"out"}, resp.Stale)

	stored, err := h.store.GetWorkflow(t.Context(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusIdle, stored.Node("out").Status)
	assert.Equal(t, workflow.StatusSuccess, stored.Node("in").Status)

	code, _ = h.do(t, http.MethodPatch, base+"/nodes/ghost", map[string]any{})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPreview(t *testing.T) {
	h := newHarness(t, false)
	d := h.createSummarizer(t)
	base := "/api/workflows/" + d.ID

	code, body := h.do(t, http.MethodPost, base+"/preview", map[string]any{
		"template": "A=@Step1 B=@sum C=@ghost",
		"outputs":  map[string]string{"in": "one", "sum": "two"},
	})
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, "A=one B=two C=@ghost", decode[map[string]string](t, body)["resolved"])

	_, body = h.do(t, http.MethodPost, base+"/runs", map[string]string{"input": "hi"})
	rec := decode[store.RunRecord](t, body)
	_, body = h.do(t, http.MethodPost, base+"/preview", map[string]any{"template": "@Step2", "runId": rec.ID})
	assert.Equal(t, "SUMMARIZE: HI", decode[map[string]string](t, body)["resolved"])

	code, _ = h.do(t, http.MethodPost, base+"/preview", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLint(t *testing.T) {
	h := newHarness(t, false)
	d := h.createSummarizer(t)
	code, body := h.do(t, http.MethodGet, "/api/workflows/"+d.ID+"/lint", nil)
	require.Equal(t, http.StatusOK, code)
	resp := decode[struct {
		Valid    bool                 `json:"valid"`
		Problems []workflow.LintError `json:"problems"`
	}](t, body)
	assert.True(t, resp.Valid)
	assert.Empty(t, resp.Problems)

	code, _ = h.do(t, http.MethodPatch, "/api/workflows/"+d.ID+"/nodes/sum", map[string]string{"promptTemplate": ""})
	require.Equal(t, http.StatusOK, code)
	_, body = h.do(t, http.MethodGet, "/api/workflows/"+d.ID+"/lint", nil)
	resp = decode[struct {
		Valid    bool                 `json:"valid"`
		Problems []workflow.LintError `json:"problems"`
	}](t, body)
	assert.False(t, resp.Valid)
	require.Len(t, resp.Problems, 1)
	assert.Equal(t, "sum", resp.Problems[0].NodeID)
}

func TestPlan(t *testing.T) {
	code, _ := newHarness(t, false).do(t, http.MethodPost, "/api/plan", map[string]string{"prompt": "echo"})
	assert.Equal(t, http.StatusServiceUnavailable, code)

	h := newHarness(t, true)
	code, _ = h.do(t, http.MethodPost, "/api/plan", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(t, http.MethodPost, "/api/plan", map[string]string{"prompt": "shout my input"})
	require.Equal(t, http.StatusCreated, code, string(body))
	d := decode[*workflow.DAG](t, body)
	assert.Equal(t, "Echo", d.Name)

	_, err := h.store.GetWorkflow(t.Context(), d.ID)
	assert.NoError(t, err, "planned workflow is stored")
}

func TestPlanMalformedReply(t *testing.T) {
	h := newHarness(t, false)
	reply := "```json\n" + `{"nodes":[{"id":"in","type":"input"},null,{"id":"out","type":"output"}],"edges":[null]}` + "\n```"
	gen := llm.GeneratorFunc(func(context.Context, string) (string, error) { return reply, nil })
	h.srv = New(h.store, h.srv.engine,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPlanner(&planner.Architect{Generator: gen}))

	code, body := h.do(t, http.MethodPost, "/api/plan", map[string]string{"prompt": "anything"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, string(body), "malformed plan")

	code, _ = h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)

	list, err := h.store.ListWorkflows(t.Context())
	require.NoError(t, err)
	assert.Empty(t, list, "nothing stored")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, false)
	d := h.createSummarizer(t)
	h.do(t, http.MethodPost, "/api/workflows/"+d.ID+"/runs", map[string]string{"input": "x"})

	code, body := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	text := string(body)
	assert.Contains(t, text, "opal_http_requests_total")
	assert.Contains(t, text, `path="/api/workflows"`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{workflow.ErrNodeNotFound, http.StatusNotFound},
		{workflow.ErrDuplicateOutput, http.StatusUnprocessableEntity},
		{&workflow.InvalidGraphError{Problems: []string{"x"}}, http.StatusUnprocessableEntity},
		{&workflow.CyclicGraphError{Excluded: []string{"a"}}, http.StatusUnprocessableEntity},
		{planner.ErrNoPlan, http.StatusBadGateway},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
