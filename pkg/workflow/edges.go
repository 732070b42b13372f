package workflow

// EdgeVerdict is the outcome of an edge legality check.
type EdgeVerdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func (v EdgeVerdict) Error() string {
	if v.OK {
		return ""
	}
	return "illegal edge: " + v.Reason
}

// Reasons returned by CheckEdge.
const (
	ReasonSelfLoop      = "self-loop"
	ReasonDuplicate     = "duplicate edge"
	ReasonFromOutput    = "output node cannot have outgoing edges"
	ReasonToInput       = "input node cannot have incoming edges"
	ReasonUnknownSource = "unknown source node"
	ReasonUnknownTarget = "unknown target node"
)

// CheckEdge applies the edge legality predicate: no self-loop, no duplicate
// of an existing source→target pair, source is not an output node and target
// is not an input node. Both endpoints must exist in d.
func CheckEdge(d *DAG, source, target string) EdgeVerdict {
	if v := checkEdgeShape(d, source, target); !v.OK {
		return v
	}
	if d.HasEdge(source, target) {
		return EdgeVerdict{Reason: ReasonDuplicate}
	}
	return EdgeVerdict{OK: true}
}
