package parser

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/me/lightci/internal/pipeline"
	"github.com/me/lightci/pkg/model"
)

func testParser() *Parser {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParse_Valid(t *testing.T) {
	yaml := `
name: demo
version: "1.0"
repository: https://example.com/repo.git
default_branch: main
environment:
  CI: "true"
steps:
  build:
    name: Build
    command: make
    timeout: 300
  test:
    name: Test
    command: make test
    environment:
      VERBOSE: "1"
    depends_on:
      - build
    retries: 2
    working_dir: src
`
	p, err := testParser().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "demo" || p.Repository != "https://example.com/repo.git" || p.DefaultBranch != "main" {
		t.Errorf("pipeline fields = %+v", p)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(p.Steps))
	}

	build := p.StepByID("build")
	if build == nil || build.Command != "make" || build.TimeoutSeconds != 300 {
		t.Errorf("build step = %+v", build)
	}
	// Pipeline environment is a default for every step.
	if build.Environment["CI"] != "true" {
		t.Errorf("build env = %v, want pipeline default applied", build.Environment)
	}

	test := p.StepByID("test")
	if test == nil {
		t.Fatal("test step missing")
	}
	if test.Environment["CI"] != "true" || test.Environment["VERBOSE"] != "1" {
		t.Errorf("test env = %v", test.Environment)
	}
	if len(test.Dependencies) != 1 || test.Dependencies[0] != "build" {
		t.Errorf("test deps = %v", test.Dependencies)
	}
	if test.Retries != 2 || test.WorkingDir != "src" {
		t.Errorf("test step = %+v", test)
	}
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	yaml := `
name: demo
steps:
  build:
    command: make
    replicas: 3
`
	if _, err := testParser().Parse([]byte(yaml)); err == nil {
		t.Fatal("Parse accepted unknown field")
	}
}

func TestParse_MissingName(t *testing.T) {
	yaml := `
steps:
  build:
    command: make
`
	_, err := testParser().Parse([]byte(yaml))
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrValidation {
		t.Fatalf("Parse = %v, want validation APIError", err)
	}
}

func TestParse_NoSteps(t *testing.T) {
	if _, err := testParser().Parse([]byte("name: demo\n")); err == nil {
		t.Fatal("Parse accepted a pipeline without steps")
	}
}

func TestParse_MissingCommand(t *testing.T) {
	yaml := `
name: demo
steps:
  build:
    name: Build
`
	_, err := testParser().Parse([]byte(yaml))
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Parse = %v, want validation APIError", err)
	}
	if len(apiErr.Details) == 0 || apiErr.Details[0].Field != "steps.build.command" {
		t.Errorf("details = %+v", apiErr.Details)
	}
}

func TestParse_MissingDependency(t *testing.T) {
	yaml := `
name: demo
steps:
  build:
    command: make
    depends_on:
      - nonexistent
`
	_, err := testParser().Parse([]byte(yaml))
	var missing *pipeline.MissingDependencyError
	if !errors.As(err, &missing) {
		t.Fatalf("Parse = %v, want MissingDependencyError", err)
	}
}

func TestParse_Cycle(t *testing.T) {
	yaml := `
name: demo
steps:
  a:
    command: "true"
    depends_on: [b]
  b:
    command: "true"
    depends_on: [a]
`
	_, err := testParser().Parse([]byte(yaml))
	var cyc *pipeline.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("Parse = %v, want CyclicDependencyError", err)
	}
}

func TestTemplate_Parses(t *testing.T) {
	p, err := testParser().Parse(Template())
	if err != nil {
		t.Fatalf("Parse(Template()): %v", err)
	}
	if p.Name != "default" || len(p.Steps) != 2 {
		t.Errorf("template pipeline = %+v", p)
	}
	test := p.StepByID("test")
	if test == nil || len(test.Dependencies) != 1 || test.Dependencies[0] != "build" {
		t.Errorf("template test step = %+v", test)
	}
}
