package workflow

import (
	"context"
	"errors"
	"fmt"

	"workflow-assistant/backend/internal/capability"
	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/safety"
	"workflow-assistant/backend/internal/selector"
	"workflow-assistant/backend/internal/telemetry"
	"workflow-assistant/backend/pkg/models"
)

// Plan is a sanitized tool selection bound to the provider that will run it.
type Plan struct {
	Provider  capability.Provider
	Selection *models.ToolSelection
}

// Outcome is the result of running a plan.
type Outcome struct {
	Selection *models.ToolSelection
	Response  *models.CapabilityResponse
}

// Pipeline is the shared list, select, sanitize, execute sequence used by
// tool-driven workflows.
type Pipeline struct {
	providers *capability.Registry
	selector  *selector.Selector
	validator *safety.Validator
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(providers *capability.Registry, sel *selector.Selector, validator *safety.Validator, tel *telemetry.Telemetry, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	if tel == nil {
		tel = telemetry.Default()
	}
	return &Pipeline{
		providers: providers,
		selector:  sel,
		validator: validator,
		telemetry: tel,
		logger:    logger.Component("pipeline"),
	}
}

// Provider returns the provider registered for a capability name.
func (p *Pipeline) Provider(name string) (capability.Provider, error) {
	return p.providers.Get(name)
}

// Plan asks the model for a tool of the named capability and sanitizes the
// answer. Nothing is executed.
func (p *Pipeline) Plan(ctx context.Context, req *Request, capabilityName string) (*Plan, error) {
	provider, err := p.providers.Get(capabilityName)
	if err != nil {
		return nil, err
	}

	tools, err := provider.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools of %s: %w", capabilityName, err)
	}

	req.enter(PhaseToolSelecting)
	sel, err := p.selector.Select(ctx, req.Message.Content, tools, provider.Describe(), req.History)
	if err != nil {
		p.reject(ctx, err)
		return nil, err
	}

	req.enter(PhaseValidating)
	clean, err := p.validator.Sanitize(sel)
	if err != nil {
		p.reject(ctx, err)
		return nil, err
	}
	return &Plan{Provider: provider, Selection: clean}, nil
}

// Execute runs a plan. A response with Success=false is returned together
// with a *capability.ExecutionError.
func (p *Pipeline) Execute(ctx context.Context, req *Request, plan *Plan) (*Outcome, error) {
	req.enter(PhaseExecuting)
	sel := plan.Selection
	p.logger.Debug("executing tool", "tool", sel.Tool, "params", logging.RedactAny(sel.Parameters))

	resp, err := plan.Provider.Execute(ctx, sel.Tool, sel.Parameters)
	if err != nil {
		return nil, &capability.ExecutionError{Tool: sel.Tool, Err: err}
	}
	out := &Outcome{Selection: sel, Response: resp}
	if !resp.Success {
		return out, &capability.ExecutionError{Tool: sel.Tool, Message: resp.Error}
	}
	return out, nil
}

// Run plans and executes in one step.
func (p *Pipeline) Run(ctx context.Context, req *Request, capabilityName string) (*Outcome, error) {
	plan, err := p.Plan(ctx, req, capabilityName)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, req, plan)
}

func (p *Pipeline) reject(ctx context.Context, err error) {
	if kind := safety.KindOf(err); kind != safety.KindNone {
		p.telemetry.Rejection(ctx, string(kind))
	}
}

// ToolHandler is a single-turn workflow that runs the pipeline against one
// capability and reports the provider's data.
type ToolHandler struct {
	pipeline   *Pipeline
	capability string
}

// NewToolHandler creates a ToolHandler for capabilityName.
func NewToolHandler(pipeline *Pipeline, capabilityName string) *ToolHandler {
	return &ToolHandler{pipeline: pipeline, capability: capabilityName}
}

func (h *ToolHandler) Execute(ctx context.Context, req *Request) (*models.WorkflowResult, error) {
	out, err := h.pipeline.Run(ctx, req, h.capability)
	if err != nil {
		return nil, err
	}
	return &models.WorkflowResult{
		Success: true,
		Message: formatData(out.Response.Data),
		Data:    out.Response.Data,
	}, nil
}

func (h *ToolHandler) Continue(ctx context.Context, req *Request, _ *models.WorkflowState) (*models.WorkflowResult, error) {
	return h.Execute(ctx, req)
}

// DefaultErrorResult renders err as a failed result.
func DefaultErrorResult(def *Definition, err error) *models.WorkflowResult {
	result := &models.WorkflowResult{Success: false}
	var execErr *capability.ExecutionError
	switch kind := safety.KindOf(err); {
	case kind != safety.KindNone:
		result.Message = safety.UserMessage(err)
		result.Data = map[string]any{"error": string(kind)}
	case errors.As(err, &execErr):
		result.Message = "The request could not be completed: " + safety.EscapeString(execErr.Error())
		result.Data = map[string]any{"error": "CapabilityExecutionError"}
	default:
		name := "the workflow"
		if def != nil && def.Name != "" {
			name = def.Name
		}
		result.Message = fmt.Sprintf("Sorry, something went wrong while running %s.", name)
	}
	return result
}
