package workflow_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

func TestRunState_OutputsAndOrder(t *testing.T) {
	s := workflow.NewRunState(validDAG())
	if st := s.Status("ai"); st != workflow.StatusIdle {
		t.Errorf("initial status = %q", st)
	}
	if _, _, ok := s.Last(); ok {
		t.Error("Last on empty state should be !ok")
	}
	s.SetOutput("in", "1")
	s.SetOutput("ai", "2")
	s.SetOutput("in", "3")

	if !slices.Equal(s.OutputOrder(), []string{"in", "ai"}) {
		t.Errorf("order = %v", s.OutputOrder())
	}
	if v, _ := s.Output("in"); v != "3" {
		t.Errorf("in = %q, want overwritten value", v)
	}
	id, v, ok := s.Last()
	if !ok || id != "ai" || v != "2" {
		t.Errorf("Last = %q, %q, %v", id, v, ok)
	}

	snap := s.Outputs()
	snap["in"] = "mutated"
	if v, _ := s.Output("in"); v != "3" {
		t.Error("Outputs should return a copy")
	}
}

func TestRunState_Checkpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	s := workflow.NewRunState(validDAG())
	s.SetOutput("in", "hello")
	s.SetOutput("ai", "world")
	if err := s.SaveCheckpoint(path); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `"last_node_id": "ai"`) {
		t.Errorf("checkpoint = %s", raw)
	}

	restored, err := workflow.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if !slices.Equal(restored.OutputOrder(), []string{"in", "ai"}) {
		t.Errorf("order = %v", restored.OutputOrder())
	}
	if v, _ := restored.Output("ai"); v != "world" {
		t.Errorf("ai = %q", v)
	}
	if restored.Status("ai") != workflow.StatusSuccess {
		t.Errorf("status = %q, want success", restored.Status("ai"))
	}
	if restored.Status("out") != workflow.StatusIdle {
		t.Errorf("unrun node status = %q, want idle", restored.Status("out"))
	}
}

func TestLoadCheckpoint_Errors(t *testing.T) {
	if _, err := workflow.LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	_ = os.WriteFile(bad, []byte("{"), 0o600)
	if _, err := workflow.LoadCheckpoint(bad); err == nil {
		t.Error("expected error for malformed checkpoint")
	}
}

func TestPreview(t *testing.T) {
	short := "hello"
	if workflow.Preview(short) != short {
		t.Error("short strings are returned as-is")
	}
	exact := strings.Repeat("a", workflow.PreviewLimit)
	if workflow.Preview(exact) != exact {
		t.Error("strings at the limit are not truncated")
	}
	long := strings.Repeat("é", 150)
	got := workflow.Preview(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis: %q", got)
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(got, "...")); n != workflow.PreviewLimit {
		t.Errorf("kept %d runes, want %d", n, workflow.PreviewLimit)
	}
}
