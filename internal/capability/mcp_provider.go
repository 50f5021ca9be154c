package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"workflow-assistant/backend/internal/config"
	"workflow-assistant/backend/pkg/models"
)

// MCPClient is the part of the mcp-go client an MCPProvider uses.
type MCPClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPProvider exposes the tools of an external MCP server as a capability.
type MCPProvider struct {
	name        string
	description string
	client      MCPClient
}

// NewMCPProvider wraps an initialized MCP client.
func NewMCPProvider(name, description string, c MCPClient) *MCPProvider {
	return &MCPProvider{name: name, description: description, client: c}
}

// ConnectMCP starts a client for server over SSE (URL) or stdio (Command)
// and performs the MCP handshake.
func ConnectMCP(ctx context.Context, server config.MCPServer) (*MCPProvider, error) {
	var (
		mcpClient *client.Client
		err       error
	)
	switch {
	case server.URL != "":
		mcpClient, err = client.NewSSEMCPClient(server.URL)
	case server.Command != "":
		mcpClient, err = client.NewStdioMCPClient(server.Command, nil, server.Args...)
	default:
		return nil, fmt.Errorf("mcp server %s has neither url nor command", server.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client for %s: %w", server.Name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to start MCP client for %s: %w", server.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "workflow-assistant",
		Version: "1.0.0",
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP client for %s: %w", server.Name, err)
	}

	return NewMCPProvider(server.Name, server.Description, mcpClient), nil
}

func (p *MCPProvider) Describe() string {
	if p.description != "" {
		return p.description
	}
	return fmt.Sprintf("Tools of the %s MCP server.", p.name)
}

func (p *MCPProvider) ListTools(ctx context.Context) ([]models.ToolDescriptor, error) {
	result, err := p.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools of %s: %w", p.name, err)
	}
	tools := make([]models.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, describeTool(t))
	}
	return tools, nil
}

func describeTool(t mcp.Tool) models.ToolDescriptor {
	required := map[string]bool{}
	for _, name := range t.InputSchema.Required {
		required[name] = true
	}
	params := make(map[string]string, len(t.InputSchema.Properties))
	for name, raw := range t.InputSchema.Properties {
		var parts []string
		if prop, ok := raw.(map[string]any); ok {
			if typ, ok := prop["type"].(string); ok {
				parts = append(parts, typ)
			}
			if required[name] {
				parts = append(parts, "required")
			} else {
				parts = append(parts, "optional")
			}
			if desc, ok := prop["description"].(string); ok && desc != "" {
				parts = append(parts, desc)
			}
		}
		params[name] = strings.Join(parts, ", ")
	}
	return models.ToolDescriptor{Name: t.Name, Description: t.Description, Parameters: params}
}

func (p *MCPProvider) Execute(ctx context.Context, tool string, params map[string]any) (*models.CapabilityResponse, error) {
	result, err := p.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: params,
		},
	})
	if err != nil {
		return failure(fmt.Sprintf("%s call failed: %v", p.name, err)), nil
	}

	text := resultText(result)
	if result.IsError {
		return failure(text), nil
	}
	var data any = text
	var decoded any
	if json.Unmarshal([]byte(text), &decoded) == nil {
		data = decoded
	}
	return &models.CapabilityResponse{Success: true, Data: data}, nil
}

// Close shuts the underlying client down.
func (p *MCPProvider) Close() error {
	return p.client.Close()
}

func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
