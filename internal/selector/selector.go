package selector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/safety"
	"workflow-assistant/backend/internal/services"
	"workflow-assistant/backend/pkg/models"
)

// ErrNoTools is returned when a provider advertises nothing to select from.
var ErrNoTools = errors.New("no tools available for selection")

// SystemMessage is sent with every selection request.
const SystemMessage = "You are a tool router. Reply with a single JSON object and nothing else. " +
	"Every parameter value must be a literal: never write variable names, function calls, " +
	"template syntax or environment references."

// SelectionParseError reports a completion that could not be decoded.
type SelectionParseError struct {
	Raw string
	Err error
}

func (e *SelectionParseError) Error() string {
	return fmt.Sprintf("failed to parse tool selection: %v", e.Err)
}

// Unwrap lets callers match safety.ErrJSONParseFailed.
func (e *SelectionParseError) Unwrap() []error {
	return []error{safety.ErrJSONParseFailed, e.Err}
}

var promptTemplate = template.Must(template.New("selection").Parse(`User request:
{{.Query}}
{{if .Context}}
Context:
{{.Context}}
{{end}}
Capability:
{{.Capability}}

Available tools:
{{range .Tools}}- {{.Name}}: {{.Description}}
{{range .Parameters}}    - {{.Name}}: {{.Constraint}}
{{end}}{{end}}
Choose exactly one tool from the list above and respond with JSON of the form:
{"tool": "<tool name>", "parameters": {...}, "reasoning": "<one sentence>"}
`))

type promptParam struct {
	Name       string
	Constraint string
}

type promptTool struct {
	Name        string
	Description string
	Parameters  []promptParam
}

// Selector asks a language model to choose one tool and its parameters.
type Selector struct {
	llm         services.LLMClient
	validator   *safety.Validator
	temperature float64
	logger      *logging.Logger
}

// NewSelector creates a selector. temperature <= 0 selects 0.1.
func NewSelector(llm services.LLMClient, validator *safety.Validator, temperature float64, logger *logging.Logger) *Selector {
	if temperature <= 0 {
		temperature = 0.1
	}
	if validator == nil {
		validator = safety.NewValidator(nil, logger)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Selector{llm: llm, validator: validator, temperature: temperature, logger: logger.Component("selector")}
}

// BuildPrompt renders the selection prompt. The output depends only on its
// inputs; parameter constraints are listed in name order.
func BuildPrompt(query string, tools []models.ToolDescriptor, capability, contextInfo string) (string, error) {
	data := struct {
		Query      string
		Context    string
		Capability string
		Tools      []promptTool
	}{Query: query, Context: contextInfo, Capability: capability}

	for _, tool := range tools {
		pt := promptTool{Name: tool.Name, Description: tool.Description}
		names := make([]string, 0, len(tool.Parameters))
		for name := range tool.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			pt.Parameters = append(pt.Parameters, promptParam{Name: name, Constraint: tool.Parameters[name]})
		}
		data.Tools = append(data.Tools, pt)
	}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render selection prompt: %w", err)
	}
	return buf.String(), nil
}

// Select chooses a tool for query. capability is the provider summary placed
// in the prompt; contextInfo is optional extra context such as recent turns.
func (s *Selector) Select(ctx context.Context, query string, tools []models.ToolDescriptor, capability, contextInfo string) (*models.ToolSelection, error) {
	if len(tools) == 0 {
		return nil, ErrNoTools
	}

	prompt, err := BuildPrompt(query, tools, capability, contextInfo)
	if err != nil {
		return nil, err
	}

	completion, err := s.llm.Complete(ctx, prompt, services.CompletionOptions{
		SystemMessage: SystemMessage,
		Temperature:   s.temperature,
		JSONMode:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tool selection: %w", err)
	}

	if err := s.validator.ScanRaw(completion.Content); err != nil {
		return nil, err
	}

	sel, err := Parse(completion.Content)
	if err != nil {
		s.logger.Warn("unparseable selection", "error", err)
		return nil, err
	}

	if !hasTool(tools, sel.Tool) {
		s.logger.Warn("unknown tool selected, using first tool", "selected", safety.EscapeString(sel.Tool), "fallback", tools[0].Name)
		note := fmt.Sprintf("model selected unknown tool %q; using %q", sel.Tool, tools[0].Name)
		if sel.Reasoning != "" {
			note = sel.Reasoning + " (" + note + ")"
		}
		sel.Tool = tools[0].Name
		sel.Reasoning = note
	}
	return sel, nil
}

// Parse decodes a completion into a selection, tolerating a surrounding
// markdown code fence.
func Parse(content string) (*models.ToolSelection, error) {
	body := StripFences(content)

	var sel models.ToolSelection
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&sel); err != nil {
		return nil, &SelectionParseError{Raw: content, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &SelectionParseError{Raw: content, Err: errors.New("unexpected data after selection object")}
	}
	if sel.Tool == "" {
		return nil, &SelectionParseError{Raw: content, Err: errors.New("missing tool")}
	}
	if sel.Parameters == nil {
		sel.Parameters = map[string]any{}
	}
	return &sel, nil
}

// StripFences removes a leading ```json (or bare ```) line and the closing
// fence if present.
func StripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func hasTool(tools []models.ToolDescriptor, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}
