package workflow

import (
	"fmt"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/trigger"
	"workflow-assistant/backend/pkg/models"
)

// Registry holds workflow definitions in priority order.
type Registry struct {
	triggers *trigger.Registry[*Definition]
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{triggers: trigger.NewRegistry[*Definition](logger)}
}

// Register adds def. An existing definition with the same id is replaced in
// place.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Handler == nil {
		return fmt.Errorf("workflow definition needs a handler")
	}
	return r.triggers.Register(def.ID, def.Triggers, def)
}

// Get returns the definition registered as id.
func (r *Registry) Get(id string) (*Definition, bool) {
	return r.triggers.Get(id)
}

// FindByTrigger returns the first definition whose triggers match message.
func (r *Registry) FindByTrigger(message string) (*Definition, bool) {
	return r.triggers.Find(message)
}

// List describes every definition in priority order.
func (r *Registry) List() []models.WorkflowInfo {
	defs := r.triggers.List()
	out := make([]models.WorkflowInfo, len(defs))
	for i, def := range defs {
		out[i] = def.Info()
	}
	return out
}
