package workflow

import "sort"

// TopologicalOrder returns node ids in execution order using Kahn's
// algorithm. Among nodes that are ready at the same time the one declared
// first wins, so the order is reproducible. Edges touching unknown nodes are
// ignored. If some nodes never reach in-degree zero a *CyclicGraphError
// naming them is returned together with the partial order.
func TopologicalOrder(d *DAG) ([]string, error) {
	index := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		if _, dup := index[n.ID]; !dup {
			index[n.ID] = i
		}
	}

	inDegree := make(map[string]int, len(index))
	successors := make(map[string][]string, len(index))
	for id := range index {
		inDegree[id] = 0
	}
	for _, e := range d.Edges {
		_, okS := index[e.Source]
		_, okT := index[e.Target]
		if !okS || !okT {
			continue
		}
		successors[e.Source] = append(successors[e.Source], e.Target)
		inDegree[e.Target]++
	}

	// ready is kept sorted by declaration index.
	var ready []int
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, index[id])
		}
	}
	sort.Ints(ready)

	order := make([]string, 0, len(index))
	for len(ready) > 0 {
		current := d.Nodes[ready[0]].ID
		ready = ready[1:]
		order = append(order, current)

		for _, next := range successors[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = insertSorted(ready, index[next])
			}
		}
	}

	if len(order) != len(index) {
		scheduled := make(map[string]bool, len(order))
		for _, id := range order {
			scheduled[id] = true
		}
		var excluded []string
		for _, n := range d.Nodes {
			if !scheduled[n.ID] {
				excluded = append(excluded, n.ID)
				scheduled[n.ID] = true
			}
		}
		return order, &CyclicGraphError{Excluded: excluded}
	}
	return order, nil
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
