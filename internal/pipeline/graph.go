package pipeline

import (
	"fmt"
	"sort"

	"github.com/me/lightci/pkg/model"
)

// Graph holds the forward and reverse adjacency of a validated pipeline.
// Forward edges (dependents) drive scheduling; reverse edges (dependencies)
// drive the readiness check.
type Graph struct {
	dependents   map[string][]string
	dependencies map[string][]string
	roots        []string
}

// NewGraph builds the adjacency maps for a validated pipeline. Adjacency
// lists are sorted for deterministic iteration.
func NewGraph(p *model.Pipeline) (*Graph, error) {
	g := &Graph{
		dependents:   make(map[string][]string, len(p.Steps)),
		dependencies: make(map[string][]string, len(p.Steps)),
	}

	for i := range p.Steps {
		g.dependents[p.Steps[i].ID] = nil
	}

	for i := range p.Steps {
		s := &p.Steps[i]
		g.dependencies[s.ID] = append([]string(nil), s.Dependencies...)
		sort.Strings(g.dependencies[s.ID])
		for _, dep := range s.Dependencies {
			g.dependents[dep] = append(g.dependents[dep], s.ID)
		}
		if len(s.Dependencies) == 0 {
			g.roots = append(g.roots, s.ID)
		}
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}
	sort.Strings(g.roots)

	if len(p.Steps) > 0 && len(g.roots) == 0 {
		return nil, model.NewEngineError(model.KindConfig,
			"pipeline has no entry points (all steps have dependencies)", nil)
	}

	return g, nil
}

// Roots returns the ids of steps with no dependencies.
func (g *Graph) Roots() []string {
	return append([]string(nil), g.roots...)
}

// Dependents returns the ids of steps that depend on the given step.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// Dependencies returns the ids the given step depends on.
func (g *Graph) Dependencies(id string) []string {
	return g.dependencies[id]
}

// Len returns the number of steps in the graph.
func (g *Graph) Len() int {
	return len(g.dependents)
}

// TransitiveDependents returns every step reachable from id along forward
// edges, in deterministic breadth-first order, excluding id itself.
func (g *Graph) TransitiveDependents(id string) []string {
	seen := map[string]bool{id: true}
	var out []string
	queue := append([]string(nil), g.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, g.dependents[next]...)
	}
	return out
}

// String renders the forward adjacency, for diagnostics.
func (g *Graph) String() string {
	ids := make([]string, 0, len(g.dependents))
	for id := range g.dependents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := ""
	for _, id := range ids {
		out += fmt.Sprintf("%s -> %v\n", id, g.dependents[id])
	}
	return out
}
