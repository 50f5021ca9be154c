package workflow

import (
	"context"

	"workflow-assistant/backend/pkg/models"
)

// Handler runs the turns of one workflow. Execute starts a workflow from a
// trigger match; Continue handles the next message of a conversation that
// asked for a follow-up.
type Handler interface {
	Execute(ctx context.Context, req *Request) (*models.WorkflowResult, error)
	Continue(ctx context.Context, req *Request, state *models.WorkflowState) (*models.WorkflowResult, error)
}

// ErrorFunc turns a failed turn into a user-facing result. It must return a
// non-nil result for every error.
type ErrorFunc func(ctx context.Context, req *Request, err error) *models.WorkflowResult

// Definition is a registered workflow.
type Definition struct {
	ID                   string
	Name                 string
	Triggers             []string
	RequiredCapabilities []string
	Handler              Handler
	OnError              ErrorFunc
}

// Info returns the public description of d.
func (d *Definition) Info() models.WorkflowInfo {
	return models.WorkflowInfo{
		ID:                   d.ID,
		Name:                 d.Name,
		Triggers:             append([]string(nil), d.Triggers...),
		RequiredCapabilities: append([]string(nil), d.RequiredCapabilities...),
	}
}

// Capability returns the first required capability, or "".
func (d *Definition) Capability() string {
	if len(d.RequiredCapabilities) == 0 {
		return ""
	}
	return d.RequiredCapabilities[0]
}

// Request is one inbound message as seen by a handler.
type Request struct {
	Message models.Message
	Key     string
	// History is recent conversation text for the selection prompt.
	History string

	def      *Definition
	followUp *models.WorkflowState
	observe  func(Phase)
}

// Definition returns the workflow handling the request.
func (r *Request) Definition() *Definition { return r.def }

// FollowUp records the state to persist when the handler's result asks for a
// follow-up.
func (r *Request) FollowUp(action string, step int, data map[string]any) {
	r.followUp = &models.WorkflowState{Action: action, Step: step, Data: data}
}

func (r *Request) enter(p Phase) {
	if r.observe != nil {
		r.observe(p)
	}
}

// HandlerFuncs adapts plain functions to a Handler. A nil ContinueFunc
// handles follow-ups with ExecuteFunc.
type HandlerFuncs struct {
	ExecuteFunc  func(ctx context.Context, req *Request) (*models.WorkflowResult, error)
	ContinueFunc func(ctx context.Context, req *Request, state *models.WorkflowState) (*models.WorkflowResult, error)
}

func (h HandlerFuncs) Execute(ctx context.Context, req *Request) (*models.WorkflowResult, error) {
	return h.ExecuteFunc(ctx, req)
}

func (h HandlerFuncs) Continue(ctx context.Context, req *Request, state *models.WorkflowState) (*models.WorkflowResult, error) {
	if h.ContinueFunc == nil {
		return h.ExecuteFunc(ctx, req)
	}
	return h.ContinueFunc(ctx, req, state)
}
