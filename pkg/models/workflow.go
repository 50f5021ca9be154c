package models

import (
	"time"
)

// WorkflowState is the in-flight state of a multi-turn workflow for one
// (user, channel) pair.
type WorkflowState struct {
	WorkflowID string         `json:"workflow_id"`
	Action     string         `json:"action"`
	Step       int            `json:"step"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// WorkflowResult is what a workflow turn reports back to the caller.
// RequireFollowUp asks the executor to keep the state alive for the next turn.
type WorkflowResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Data            any    `json:"data,omitempty"`
	RequireFollowUp bool   `json:"require_follow_up,omitempty"`
}

// WorkflowInfo is the public description of a registered workflow.
type WorkflowInfo struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Triggers             []string `json:"triggers"`
	RequiredCapabilities []string `json:"required_capabilities"`
}
