package scheduler

import (
	"fmt"
)

// dependencyGraph is an adjacency list over task IDs, guarded by the
// scheduler's mutation lock.
type dependencyGraph struct {
	edges map[string][]string
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{
		edges: make(map[string][]string),
	}
}

func (g *dependencyGraph) add(id string, deps []string) {
	g.edges[id] = append([]string(nil), deps...)
}

func (g *dependencyGraph) remove(id string) {
	delete(g.edges, id)
}

// wouldCycle checks whether adding the given dependency edges for taskID
// closes a cycle, via DFS over the existing graph plus the new edges.
func (g *dependencyGraph) wouldCycle(taskID string, deps []string) error {
	visited := make(map[string]bool)
	path := make(map[string]bool)

	var visit func(string) error
	visit = func(current string) error {
		if path[current] {
			return fmt.Errorf("%w: task %s", ErrCircularDependency, current)
		}
		if visited[current] {
			return nil
		}

		visited[current] = true
		path[current] = true

		for _, dep := range g.edges[current] {
			if err := visit(dep); err != nil {
				return err
			}
		}

		// The candidate edges are not in the graph yet
		if current == taskID {
			for _, dep := range deps {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path[current] = false
		return nil
	}

	return visit(taskID)
}
