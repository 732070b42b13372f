package main

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/opal/pkg/workflow"
)

func graphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <workflow>",
		Short: "Print a human-readable summary of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}

			switch strings.ToLower(format) {
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), renderDOT(d))
			case "text", "":
				fmt.Fprint(cmd.OutOrStdout(), renderText(d))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

// displayOrder returns node ids in execution order. Nodes the scheduler
// cannot place (cycles) follow in declaration order.
func displayOrder(d *workflow.DAG) []string {
	order, _ := workflow.TopologicalOrder(d)
	placed := make(map[string]bool, len(order))
	for _, id := range order {
		placed[id] = true
	}
	for _, n := range d.Nodes {
		if !placed[n.ID] {
			order = append(order, n.ID)
		}
	}
	return order
}

// truncate shortens s to maxLen runes, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

func sortedConfigKeys(n *workflow.Node) []string {
	keys := make([]string, 0, len(n.Config))
	for k := range n.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// renderText produces the human-readable text summary.
func renderText(d *workflow.DAG) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Workflow: %s  (%d nodes, %d edges)\n", d.Name, len(d.Nodes), len(d.Edges))

	maxIDLen := 4 // minimum "node"
	for _, n := range d.Nodes {
		if len(n.ID) > maxIDLen {
			maxIDLen = len(n.ID)
		}
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for i, id := range displayOrder(d) {
		n := d.Node(id)
		var parts []string
		if n.Label != "" && n.Label != n.ID {
			parts = append(parts, "label="+truncate(n.Label, 40))
		}
		if n.PromptTemplate != "" {
			parts = append(parts, "prompt="+truncate(n.PromptTemplate, 60))
		}
		for _, k := range sortedConfigKeys(n) {
			parts = append(parts, k+"="+truncate(fmt.Sprint(n.Config[k]), 60))
		}
		fmt.Fprintf(&sb, "  %2d. %-*s  %-8s  %s\n", i+1, maxIDLen, id, string(n.Type), strings.Join(parts, " "))
	}

	fmt.Fprintf(&sb, "\nEdges:\n")
	maxFromLen := 4
	for _, e := range d.Edges {
		if len(e.Source) > maxFromLen {
			maxFromLen = len(e.Source)
		}
	}
	for _, e := range d.Edges {
		fmt.Fprintf(&sb, "  %-*s  →  %s\n", maxFromLen, e.Source, e.Target)
	}

	return sb.String()
}

var bareDOTID = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var dotKeywords = map[string]bool{"node": true, "edge": true, "graph": true, "digraph": true, "subgraph": true, "strict": true}

// dotQuote returns the value as a DOT-safe ID, quoting unless it is a plain
// identifier.
func dotQuote(s string) string {
	if bareDOTID.MatchString(s) && !dotKeywords[strings.ToLower(s)] {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// renderDOT produces a DOT digraph that ParseDOT reads back into the same
// nodes and edges.
func renderDOT(d *workflow.DAG) string {
	var sb strings.Builder

	name := d.Name
	if name == "" {
		name = "workflow"
	}
	fmt.Fprintf(&sb, "digraph %s {\n", dotQuote(name))

	for _, n := range d.Nodes {
		parts := []string{"type=" + dotQuote(string(n.Type))}
		if n.Label != "" {
			parts = append(parts, "label="+dotQuote(n.Label))
		}
		if n.PromptTemplate != "" {
			parts = append(parts, "prompt="+dotQuote(n.PromptTemplate))
		}
		if len(n.InputRefs) > 0 {
			parts = append(parts, "refs="+dotQuote(strings.Join(n.InputRefs, ",")))
		}
		if n.Position != nil {
			parts = append(parts,
				fmt.Sprintf("pos_x=%s", dotQuote(fmt.Sprint(n.Position.X))),
				fmt.Sprintf("pos_y=%s", dotQuote(fmt.Sprint(n.Position.Y))))
		}
		for _, k := range sortedConfigKeys(n) {
			parts = append(parts, k+"="+dotQuote(fmt.Sprint(n.Config[k])))
		}
		fmt.Fprintf(&sb, "    %s [%s]\n", dotQuote(n.ID), strings.Join(parts, " "))
	}

	for _, e := range d.Edges {
		fmt.Fprintf(&sb, "    %s -> %s\n", dotQuote(e.Source), dotQuote(e.Target))
	}

	fmt.Fprintf(&sb, "}\n")
	return sb.String()
}
