// Package models defines the domain models shared by the workflow service.
package models

import "time"

// Message is an inbound chat message addressed to the workflow layer.
type Message struct {
	Content   string `json:"content"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id,omitempty"`
}

// ToolDescriptor describes one operation a capability provider advertises.
// Parameters maps a parameter name to a human readable constraint.
type ToolDescriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters"`
}

// ToolSelection is the language model's choice of tool for a request.
type ToolSelection struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// CapabilityResponse is the result of executing a tool against a provider.
type CapabilityResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SanitizationFinding records which pattern matched and where.
type SanitizationFinding struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

// Reminder is a durable scheduled notification.
type Reminder struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ChannelID   string     `json:"channel_id"`
	Text        string     `json:"text"`
	FireAt      time.Time  `json:"fire_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
