package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"workflow-assistant/backend/pkg/models"
)

// ErrUnknownTool is returned by Execute for a tool the provider does not offer.
var ErrUnknownTool = errors.New("unknown tool")

// ErrUnknownProvider is returned when a workflow names a capability that was
// never registered.
var ErrUnknownProvider = errors.New("unknown capability provider")

// Provider is an external system a workflow can act on.
type Provider interface {
	// Execute runs tool with params. Failures on the provider side are
	// reported in the response with Success=false; err is reserved for
	// unknown tools and malformed parameters.
	Execute(ctx context.Context, tool string, params map[string]any) (*models.CapabilityResponse, error)
	ListTools(ctx context.Context) ([]models.ToolDescriptor, error)
	// Describe is a one paragraph summary used in selection prompts.
	Describe() string
}

// ExecutionError is a failed capability call, carrying the provider's text.
type ExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s failed: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Registry maps capability names to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider for name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns the provider registered as name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
