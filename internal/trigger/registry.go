package trigger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"workflow-assistant/backend/internal/logging"
)

// Matcher tests a raw message against one trigger string.
type Matcher interface {
	Match(message string) bool
	String() string
}

type literal struct {
	raw   string
	lower string
}

func (l literal) Match(message string) bool {
	return strings.Contains(strings.ToLower(message), l.lower)
}

func (l literal) String() string { return l.raw }

type pattern struct {
	raw string
	re  *regexp.Regexp
}

func (p pattern) Match(message string) bool { return p.re.MatchString(message) }

func (p pattern) String() string { return p.raw }

// regexFlags are the flag letters that mark "/expr/flags" as a pattern.
// Only i compiles; the rest are rejected.
const regexFlags = "dgimsuy"

// Compile parses a trigger string. "/expr/flags" is a regular expression
// when flags is empty or made only of regex flag letters (only i is
// understood). Anything else, including paths like "/tasks/list", is a
// case-insensitive substring.
func Compile(raw string) (Matcher, error) {
	if expr, flags, ok := splitPattern(raw); ok {
		prefix := ""
		for _, f := range flags {
			switch f {
			case 'i':
				prefix = "(?i)"
			default:
				return nil, fmt.Errorf("unsupported flag %q in trigger %s", f, raw)
			}
		}
		re, err := regexp.Compile(prefix + expr)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger pattern %s: %w", raw, err)
		}
		return pattern{raw: raw, re: re}, nil
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty trigger")
	}
	return literal{raw: raw, lower: strings.ToLower(raw)}, nil
}

func splitPattern(raw string) (expr, flags string, ok bool) {
	if len(raw) < 2 || raw[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndexByte(raw, '/')
	if end == 0 {
		return "", "", false
	}
	flags = raw[end+1:]
	if strings.Trim(flags, regexFlags) != "" {
		return "", "", false
	}
	return raw[1:end], flags, true
}

// Trigger is one registered workflow's compiled trigger set. Value carries
// whatever the caller registered alongside, typically a workflow definition.
type Trigger[T any] struct {
	ID       string
	Matchers []Matcher
	Value    T
}

// Matches reports whether any of the trigger's matchers accepts message.
func (t *Trigger[T]) Matches(message string) bool {
	for _, m := range t.Matchers {
		if m.Match(message) {
			return true
		}
	}
	return false
}

// Registry holds triggers in registration order. The first trigger that
// matches a message wins.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries []*Trigger[T]
	index   map[string]int
	logger  *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry[T any](logger *logging.Logger) *Registry[T] {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry[T]{index: map[string]int{}, logger: logger.Component("trigger")}
}

// Register compiles triggers and adds them under id. Registering an existing
// id replaces it in its original position.
func (r *Registry[T]) Register(id string, triggers []string, value T) error {
	if id == "" {
		return fmt.Errorf("trigger id is required")
	}
	matchers := make([]Matcher, 0, len(triggers))
	for _, raw := range triggers {
		m, err := Compile(raw)
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", id, err)
		}
		matchers = append(matchers, m)
	}
	entry := &Trigger[T]{ID: id, Matchers: matchers, Value: value}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[id]; ok {
		r.logger.Warn("workflow re-registered, overwriting", "id", id)
		r.entries[i] = entry
		return nil
	}
	r.index[id] = len(r.entries)
	r.entries = append(r.entries, entry)
	return nil
}

// Get returns the value registered under id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.index[id]; ok {
		return r.entries[i].Value, true
	}
	var zero T
	return zero, false
}

// Find returns the first registered value whose triggers match message.
func (r *Registry[T]) Find(message string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Matches(message) {
			return e.Value, true
		}
	}
	var zero T
	return zero, false
}

// List returns all values in priority order.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Value
	}
	return out
}

// Len returns the number of registered ids.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
