package executor

import (
	"fmt"
	"log/slog"
)

// Registry maps Type values to their Executor implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	executors map[Type]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[Type]Executor),
		logger:    logger.With("component", "executor-registry"),
	}
}

// Register adds an Executor to the registry, keyed by its Type().
func (r *Registry) Register(exec Executor) {
	t := exec.Type()
	r.executors[t] = exec
	r.logger.Info("executor registered", "type", t)
}

// Get returns the Executor for the given type or an error if none is registered.
func (r *Registry) Get(t Type) (Executor, error) {
	exec, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for type %q", t)
	}
	return exec, nil
}
