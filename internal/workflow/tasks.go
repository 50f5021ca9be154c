package workflow

import (
	"context"

	"workflow-assistant/backend/pkg/models"
)

// TaskHandler manages the task database: listing, creating, updating and
// archiving tasks through the model-selected tool.
type TaskHandler struct {
	pipeline   *Pipeline
	capability string
}

// NewTaskHandler creates a TaskHandler on the named capability.
func NewTaskHandler(pipeline *Pipeline, capabilityName string) *TaskHandler {
	return &TaskHandler{pipeline: pipeline, capability: capabilityName}
}

func (h *TaskHandler) Execute(ctx context.Context, req *Request) (*models.WorkflowResult, error) {
	out, err := h.pipeline.Run(ctx, req, h.capability)
	if err != nil {
		return nil, err
	}
	return &models.WorkflowResult{
		Success: true,
		Message: formatOutcome(out),
		Data:    out.Response.Data,
	}, nil
}

// Continue treats a follow-up as a fresh request; task turns never ask for
// one.
func (h *TaskHandler) Continue(ctx context.Context, req *Request, _ *models.WorkflowState) (*models.WorkflowResult, error) {
	return h.Execute(ctx, req)
}
