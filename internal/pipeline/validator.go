package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/me/lightci/pkg/model"
)

// ErrEmptyPipeline is returned when a pipeline declares no steps.
var ErrEmptyPipeline = errors.New("pipeline has no steps")

// DuplicateStepIDError is returned when two steps share an id.
type DuplicateStepIDError struct {
	StepID string
}

func (e *DuplicateStepIDError) Error() string {
	return fmt.Sprintf("duplicate step id %q", e.StepID)
}

// MissingDependencyError is returned when a step names a dependency that
// does not exist in the pipeline.
type MissingDependencyError struct {
	StepID     string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("step %q depends on non-existent step %q", e.StepID, e.Dependency)
}

// CyclicDependencyError is returned when the dependency graph has a cycle.
// Path runs from the re-entered step back to itself, e.g. ["a", "b", "a"].
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected: %s", strings.Join(e.Path, " -> "))
}

// Validate checks a pipeline's structure: non-empty, unique step ids, all
// dependencies resolvable, and an acyclic dependency graph. It is pure and
// deterministic and never consults the store.
func Validate(p *model.Pipeline) error {
	if len(p.Steps) == 0 {
		return ErrEmptyPipeline
	}

	ids := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		id := p.Steps[i].ID
		if ids[id] {
			return &DuplicateStepIDError{StepID: id}
		}
		ids[id] = true
	}

	for i := range p.Steps {
		for _, dep := range p.Steps[i].Dependencies {
			if !ids[dep] {
				return &MissingDependencyError{StepID: p.Steps[i].ID, Dependency: dep}
			}
		}
	}

	return detectCycle(p)
}

// DFS colours.
const (
	white = iota // unvisited
	grey         // on stack
	black        // done
)

// detectCycle runs an iterative depth-first traversal over the dependency
// edges (step -> its dependencies) using a three-colour scheme. Re-entering
// a grey node means a cycle; the reported path runs from that node back to
// itself.
func detectCycle(p *model.Pipeline) error {
	deps := make(map[string][]string, len(p.Steps))
	var order []string
	for i := range p.Steps {
		s := &p.Steps[i]
		ds := append([]string(nil), s.Dependencies...)
		sort.Strings(ds)
		deps[s.ID] = ds
		order = append(order, s.ID)
	}
	sort.Strings(order)

	colour := make(map[string]int, len(p.Steps))

	type frame struct {
		id   string
		next int
	}

	for _, start := range order {
		if colour[start] != white {
			continue
		}

		stack := []frame{{id: start}}
		colour[start] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := deps[top.id]

			if top.next >= len(edges) {
				colour[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			dep := edges[top.next]
			top.next++

			switch colour[dep] {
			case grey:
				// Found a cycle: slice the stack from dep to the top and
				// close the loop.
				var path []string
				for i := range stack {
					if stack[i].id == dep {
						for _, f := range stack[i:] {
							path = append(path, f.id)
						}
						break
					}
				}
				path = append(path, dep)
				return &CyclicDependencyError{Path: path}
			case white:
				colour[dep] = grey
				stack = append(stack, frame{id: dep})
			}
		}
	}

	return nil
}
