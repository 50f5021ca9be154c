package workflow

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/trigger"
	"workflow-assistant/backend/pkg/models"
)

// DefaultDefinitions is the built-in workflow file.
//
//go:embed workflows.yaml
var DefaultDefinitions []byte

// DefinitionSpec is one workflow entry of a definitions file.
type DefinitionSpec struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Triggers     []string `yaml:"triggers"`
	Capabilities []string `yaml:"capabilities"`
	Disabled     bool     `yaml:"disabled"`
}

type definitionFile struct {
	Workflows []DefinitionSpec `yaml:"workflows"`
}

// ParseDefinitions decodes and checks a definitions file. Every trigger is
// compiled so a bad file is rejected as a whole.
func ParseDefinitions(data []byte) ([]DefinitionSpec, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definitions: %w", err)
	}
	seen := map[string]bool{}
	for i, spec := range file.Workflows {
		if spec.ID == "" {
			return nil, fmt.Errorf("workflow %d has no id", i)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("workflow %s is defined twice", spec.ID)
		}
		seen[spec.ID] = true
		if len(spec.Triggers) == 0 {
			return nil, fmt.Errorf("workflow %s has no triggers", spec.ID)
		}
		for _, raw := range spec.Triggers {
			if _, err := trigger.Compile(raw); err != nil {
				return nil, fmt.Errorf("workflow %s: %w", spec.ID, err)
			}
		}
	}
	return file.Workflows, nil
}

// HandlerFactory builds the handler of a definition.
type HandlerFactory func(spec DefinitionSpec) (Handler, ErrorFunc, error)

// BuiltinFactory resolves ids in builtin first and otherwise runs a
// ToolHandler on the definition's first capability.
func BuiltinFactory(pipeline *Pipeline, builtin map[string]Handler) HandlerFactory {
	return func(spec DefinitionSpec) (Handler, ErrorFunc, error) {
		if h, ok := builtin[spec.ID]; ok {
			return h, DefaultOnError, nil
		}
		if len(spec.Capabilities) == 0 {
			return nil, nil, fmt.Errorf("workflow %s has no handler and no capability", spec.ID)
		}
		return NewToolHandler(pipeline, spec.Capabilities[0]), DefaultOnError, nil
	}
}

// DefaultOnError is the ErrorFunc used by loaded definitions.
func DefaultOnError(_ context.Context, req *Request, err error) *models.WorkflowResult {
	return DefaultErrorResult(req.Definition(), err)
}

// Loader registers definitions from YAML and keeps them in sync with a file.
type Loader struct {
	registry *Registry
	factory  HandlerFactory
	logger   *logging.Logger
}

// NewLoader creates a new Loader.
func NewLoader(registry *Registry, factory HandlerFactory, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{registry: registry, factory: factory, logger: logger.Component("loader")}
}

// Load registers every enabled definition in data and returns how many were
// registered. Already registered ids are overwritten in place.
func (l *Loader) Load(data []byte) (int, error) {
	specs, err := ParseDefinitions(data)
	if err != nil {
		return 0, err
	}

	defs := make([]*Definition, 0, len(specs))
	for _, spec := range specs {
		if spec.Disabled {
			l.logger.Info("workflow disabled", "id", spec.ID)
			continue
		}
		handler, onError, err := l.factory(spec)
		if err != nil {
			return 0, err
		}
		name := spec.Name
		if name == "" {
			name = spec.ID
		}
		defs = append(defs, &Definition{
			ID:                   spec.ID,
			Name:                 name,
			Triggers:             spec.Triggers,
			RequiredCapabilities: spec.Capabilities,
			Handler:              handler,
			OnError:              onError,
		})
	}

	for _, def := range defs {
		if err := l.registry.Register(def); err != nil {
			return 0, err
		}
	}
	return len(defs), nil
}

// LoadFile loads definitions from path.
func (l *Loader) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read workflow definitions: %w", err)
	}
	return l.Load(data)
}

// Watch reloads path whenever it changes until ctx is done. Failed reloads
// are logged and leave the registered workflows untouched.
func (l *Loader) Watch(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// editors replace files by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	l.logger.Info("watching workflow definitions", "path", path)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				// let writes settle
				reload = time.After(100 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("workflow watcher error", "error", err)
		case <-reload:
			reload = nil
			n, err := l.LoadFile(path)
			if err != nil {
				l.logger.Error("workflow reload failed", "path", path, "error", err)
				continue
			}
			l.logger.Info("workflow definitions reloaded", "path", path, "count", n)
		}
	}
}
