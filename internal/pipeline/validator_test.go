package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/me/lightci/pkg/model"
)

// testPipeline builds a pipeline whose steps map ids to dependency lists.
func testPipeline(t *testing.T, deps map[string][]string) *model.Pipeline {
	t.Helper()
	p := &model.Pipeline{ID: "pl_test", Name: "test"}
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	// Insertion order is irrelevant to validation; sort for stable tests.
	for _, id := range sorted(ids) {
		p.Steps = append(p.Steps, model.Step{
			ID:           id,
			Name:         id,
			Command:      "true",
			Dependencies: deps[id],
		})
	}
	return p
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func TestValidate_Empty(t *testing.T) {
	err := Validate(&model.Pipeline{ID: "pl_empty"})
	if !errors.Is(err, ErrEmptyPipeline) {
		t.Fatalf("Validate(empty) = %v, want ErrEmptyPipeline", err)
	}
}

func TestValidate_Valid(t *testing.T) {
	p := testPipeline(t, map[string][]string{
		"build": nil,
		"test":  {"build"},
		"lint":  {"build"},
		"pkg":   {"test", "lint"},
	})
	if err := Validate(p); err != nil {
		t.Fatalf("Validate(valid) = %v, want nil", err)
	}
}

func TestValidate_MissingDependency(t *testing.T) {
	p := testPipeline(t, map[string][]string{
		"a": {"nonexistent"},
	})
	err := Validate(p)
	var missing *MissingDependencyError
	if !errors.As(err, &missing) {
		t.Fatalf("Validate = %v, want MissingDependencyError", err)
	}
	if missing.StepID != "a" || missing.Dependency != "nonexistent" {
		t.Errorf("MissingDependencyError = %+v, want step a, dep nonexistent", missing)
	}
}

func TestValidate_DuplicateStepID(t *testing.T) {
	p := &model.Pipeline{
		ID: "pl_dup",
		Steps: []model.Step{
			{ID: "build", Command: "true"},
			{ID: "build", Command: "false"},
		},
	}
	err := Validate(p)
	var dup *DuplicateStepIDError
	if !errors.As(err, &dup) {
		t.Fatalf("Validate = %v, want DuplicateStepIDError", err)
	}
	if dup.StepID != "build" {
		t.Errorf("DuplicateStepIDError.StepID = %q, want build", dup.StepID)
	}
}

func TestValidate_TwoNodeCycle(t *testing.T) {
	p := testPipeline(t, map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	err := Validate(p)
	var cyc *CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("Validate = %v, want CyclicDependencyError", err)
	}
	if len(cyc.Path) < 3 || cyc.Path[0] != cyc.Path[len(cyc.Path)-1] {
		t.Errorf("cycle path %v does not close on itself", cyc.Path)
	}
	joined := strings.Join(cyc.Path, " ")
	if !strings.Contains(joined, "a") || !strings.Contains(joined, "b") {
		t.Errorf("cycle path %v does not mention both steps", cyc.Path)
	}
}

func TestValidate_SelfCycle(t *testing.T) {
	p := testPipeline(t, map[string][]string{
		"a": {"a"},
	})
	var cyc *CyclicDependencyError
	if err := Validate(p); !errors.As(err, &cyc) {
		t.Fatalf("Validate = %v, want CyclicDependencyError", err)
	}
}

func TestValidate_LongCycleBehindChain(t *testing.T) {
	// d -> c -> b -> a and a -> c closes a cycle not involving d's root edge.
	p := testPipeline(t, map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
		"d": {"c"},
	})
	var cyc *CyclicDependencyError
	if err := Validate(p); !errors.As(err, &cyc) {
		t.Fatalf("Validate = %v, want CyclicDependencyError", err)
	}
	if cyc.Path[0] != cyc.Path[len(cyc.Path)-1] {
		t.Errorf("cycle path %v does not close on itself", cyc.Path)
	}
}

func TestValidate_DiamondIsNotCycle(t *testing.T) {
	p := testPipeline(t, map[string][]string{
		"root":  nil,
		"left":  {"root"},
		"right": {"root"},
		"join":  {"left", "right"},
	})
	if err := Validate(p); err != nil {
		t.Fatalf("Validate(diamond) = %v, want nil", err)
	}
}
