package workflow_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

func TestBuilder_AddNodeCreatesDAG(t *testing.T) {
	b := workflow.NewBuilder(nil)
	require.Nil(t, b.DAG())

	n, err := b.AddNode(&workflow.Node{Type: workflow.NodeTypeInput})
	require.NoError(t, err)
	require.NotNil(t, b.DAG())

	assert.True(t, strings.HasPrefix(n.ID, "input-"), "generated id %q", n.ID)
	assert.Equal(t, workflow.StatusIdle, n.Status)
	assert.Equal(t, &workflow.Position{X: 100, Y: 200}, n.Position)
	assert.Equal(t, n.ID, n.Label)

	second, err := b.AddNode(&workflow.Node{ID: "ai", Type: workflow.NodeTypeAI})
	require.NoError(t, err)
	assert.Equal(t, float64(350), second.Position.X)
}

func TestBuilder_AddNodeRejects(t *testing.T) {
	b := workflow.NewBuilder(nil)
	_, err := b.AddNode(&workflow.Node{ID: "in", Type: workflow.NodeTypeInput})
	require.NoError(t, err)
	_, err = b.AddNode(&workflow.Node{ID: "out", Type: workflow.NodeTypeOutput})
	require.NoError(t, err)

	_, err = b.AddNode(&workflow.Node{ID: "in2", Type: workflow.NodeTypeInput})
	assert.ErrorIs(t, err, workflow.ErrDuplicateInput)
	_, err = b.AddNode(&workflow.Node{ID: "out2", Type: workflow.NodeTypeOutput})
	assert.ErrorIs(t, err, workflow.ErrDuplicateOutput)
	_, err = b.AddNode(&workflow.Node{ID: "in", Type: workflow.NodeTypeProcess})
	assert.ErrorIs(t, err, workflow.ErrDuplicateNode)
	_, err = b.AddNode(&workflow.Node{ID: "x", Type: "webhook"})
	assert.ErrorIs(t, err, workflow.ErrUnknownNodeType)
	_, err = b.AddNode(nil)
	assert.Error(t, err)

	assert.Len(t, b.DAG().Nodes, 2)
}

func buildChain(t *testing.T) *workflow.Builder {
	t.Helper()
	b := workflow.NewBuilder(nil)
	for _, n := range []*workflow.Node{
		{ID: "in", Type: workflow.NodeTypeInput},
		{ID: "p", Type: workflow.NodeTypeProcess},
		{ID: "ai", Type: workflow.NodeTypeAI},
		{ID: "out", Type: workflow.NodeTypeOutput},
	} {
		_, err := b.AddNode(n)
		require.NoError(t, err)
	}
	for _, pair := range [][2]string{{"in", "p"}, {"p", "ai"}, {"ai", "out"}} {
		_, v := b.AddEdge(pair[0], pair[1])
		require.True(t, v.OK, "edge %v: %s", pair, v.Reason)
	}
	return b
}

func TestBuilder_AddEdgeVerdicts(t *testing.T) {
	b := buildChain(t)
	before := len(b.DAG().Edges)

	for _, tc := range []struct {
		src, dst, reason string
	}{
		{"p", "p", workflow.ReasonSelfLoop},
		{"in", "p", workflow.ReasonDuplicate},
		{"out", "p", workflow.ReasonFromOutput},
		{"p", "in", workflow.ReasonToInput},
	} {
		e, v := b.AddEdge(tc.src, tc.dst)
		assert.Nil(t, e)
		assert.False(t, v.OK)
		assert.Equal(t, tc.reason, v.Reason)
	}
	assert.Len(t, b.DAG().Edges, before, "rejected edges must not be inserted")

	e, v := b.AddEdge("in", "ai")
	require.True(t, v.OK)
	assert.Equal(t, workflow.EdgeTypeData, e.Type)
	assert.True(t, strings.HasPrefix(e.ID, "e-"))
}

func TestBuilder_AddEdgeOnEmptyBuilder(t *testing.T) {
	_, v := workflow.NewBuilder(nil).AddEdge("a", "b")
	assert.False(t, v.OK)
}

func TestBuilder_DeleteNodeCascades(t *testing.T) {
	b := buildChain(t)
	b.Select("p")

	require.NoError(t, b.DeleteNode("p"))
	assert.Nil(t, b.DAG().Node("p"))
	assert.Empty(t, b.Selected())
	for _, e := range b.DAG().Edges {
		assert.NotEqual(t, "p", e.Source)
		assert.NotEqual(t, "p", e.Target)
	}
	assert.Len(t, b.DAG().Edges, 1)

	assert.ErrorIs(t, b.DeleteNode("p"), workflow.ErrNodeNotFound)
}

func TestBuilder_DeleteNodeKeepsOtherSelection(t *testing.T) {
	b := buildChain(t)
	b.Select("ai")
	require.NoError(t, b.DeleteNode("p"))
	assert.Equal(t, "ai", b.Selected())
}

func TestBuilder_DeleteEdge(t *testing.T) {
	b := buildChain(t)
	id := b.DAG().Edges[0].ID
	require.NoError(t, b.DeleteEdge(id))
	assert.Len(t, b.DAG().Edges, 2)
	assert.ErrorIs(t, b.DeleteEdge(id), workflow.ErrEdgeNotFound)
}

func TestBuilder_Updates(t *testing.T) {
	b := buildChain(t)
	edgesBefore := len(b.DAG().Edges)

	require.NoError(t, b.UpdateInstruction("ai", "Rewrite @p"))
	require.NoError(t, b.UpdateConfig("ai", map[string]any{"model": "openai:gpt-4o"}))
	require.NoError(t, b.UpdateConfig("ai", map[string]any{"temperature": 0.3}))
	require.NoError(t, b.UpdatePosition("ai", workflow.Position{X: 1, Y: 2}))
	require.NoError(t, b.UpdateStatus("ai", workflow.StatusRunning))

	n := b.DAG().Node("ai")
	assert.Equal(t, "Rewrite @p", n.PromptTemplate)
	assert.Equal(t, "openai:gpt-4o", n.ConfigString("model"))
	assert.Equal(t, 0.3, n.Config["temperature"])
	assert.Equal(t, workflow.Position{X: 1, Y: 2}, *n.Position)
	assert.Equal(t, workflow.StatusRunning, n.Status)
	assert.Len(t, b.DAG().Edges, edgesBefore)

	assert.ErrorIs(t, b.UpdateInstruction("ghost", "x"), workflow.ErrNodeNotFound)
	assert.ErrorIs(t, b.UpdateStatus("ghost", workflow.StatusIdle), workflow.ErrNodeNotFound)
}

func TestBuilder_ApplyStatuses(t *testing.T) {
	b := buildChain(t)
	b.ApplyStatuses(map[string]workflow.NodeStatus{"in": workflow.StatusSuccess, "ghost": workflow.StatusError})
	assert.Equal(t, workflow.StatusSuccess, b.DAG().Node("in").Status)
	assert.Equal(t, workflow.StatusIdle, b.DAG().Node("p").Status)
}

func TestBuilder_UpstreamOutput(t *testing.T) {
	b := buildChain(t)
	v, ok := b.UpstreamOutput("ai", map[string]string{"p": "processed"})
	assert.True(t, ok)
	assert.Equal(t, "processed", v)

	_, ok = b.UpstreamOutput("in", map[string]string{"p": "processed"})
	assert.False(t, ok)
}

func TestBuilder_Downstream(t *testing.T) {
	b := buildChain(t)
	_, v := b.AddEdge("in", "ai")
	require.True(t, v.OK)

	assert.Equal(t, []string{"p", "ai", "out"}, b.Downstream("in"))
	assert.Equal(t, []string{"out"}, b.Downstream("ai"))
	assert.Empty(t, b.Downstream("out"))
	assert.Empty(t, workflow.NewBuilder(nil).Downstream("x"))
}
