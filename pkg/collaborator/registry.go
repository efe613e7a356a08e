package collaborator

import (
	"fmt"
	"log/slog"
)

// Registry maps payload kinds to collaborators. Populated once at startup.
type Registry struct {
	logger        *slog.Logger
	collaborators map[string]Collaborator
}

// NewRegistry creates an empty collaborator registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger,
		collaborators: make(map[string]Collaborator),
	}
}

// Register adds a collaborator for its payload kind.
func (r *Registry) Register(c Collaborator) {
	r.collaborators[c.Kind()] = c
	r.logger.Info("Registered collaborator", "kind", c.Kind())
}

// Lookup returns the collaborator for a payload kind.
func (r *Registry) Lookup(kind string) (Collaborator, error) {
	c, ok := r.collaborators[kind]
	if !ok {
		return nil, fmt.Errorf("no collaborator registered for kind %q", kind)
	}

	return c, nil
}

// Kinds returns the registered payload kinds, which double as the worker
// pool's capabilities.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.collaborators))
	for kind := range r.collaborators {
		kinds = append(kinds, kind)
	}

	return kinds
}

// HealthCheck reports whether the registry holds any collaborators.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.collaborators) == 0 {
		return "no collaborators registered", false
	}

	return fmt.Sprintf("%d collaborators registered", len(r.collaborators)), true
}
