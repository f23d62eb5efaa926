package graph

import "sort"

// checkCycles rejects same-cycle-point dependency cycles using Kahn's
// algorithm. Only triggers with a null offset create ordering edges:
// an inter-cycle reference like a[-P1] => a is a valid recurrence, not a
// cycle.
func checkCycles(g *Graph) error {
	forward := make(map[string][]string, len(g.Tasks))
	inDegree := make(map[string]int, len(g.Tasks))
	for name := range g.Tasks {
		inDegree[name] = 0
	}

	for name, tg := range g.Tasks {
		seen := make(map[string]bool)
		for _, e := range tg.Exprs {
			for _, tr := range e.Triggers() {
				if !tr.Offset.IsNull() || tr.Task == name || seen[tr.Task] {
					continue
				}
				seen[tr.Task] = true
				forward[tr.Task] = append(forward[tr.Task], name)
				inDegree[name]++
			}
		}
		// A same-point self-reference can never be satisfied.
		for _, e := range tg.Exprs {
			for _, tr := range e.Triggers() {
				if tr.Offset.IsNull() && tr.Task == name {
					return &GraphCycleError{Tasks: []string{name}}
				}
			}
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	done := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		done++

		succ := forward[node]
		sort.Strings(succ)
		for _, s := range succ {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
		sort.Strings(queue)
	}

	if done != len(g.Tasks) {
		var cycle []string
		for name, deg := range inDegree {
			if deg > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return &GraphCycleError{Tasks: cycle}
	}
	return nil
}
