// Package mcp exposes the workflow assistant as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"workflow-assistant/backend/internal/state"
	"workflow-assistant/backend/internal/workflow"
	"workflow-assistant/backend/pkg/models"
)

// Dispatcher produces the reply text for a message, falling back to
// conversation when no workflow applies.
type Dispatcher interface {
	Handle(ctx context.Context, msg models.Message) string
}

// NoReplyMessage is returned when a message produced no reply at all.
const NoReplyMessage = "No workflow matched the message."

type Server struct {
	mcpServer  *server.MCPServer
	executor   *workflow.Executor
	dispatcher Dispatcher
}

// NewServer registers the assistant tools. dispatcher may be nil, in which
// case process_message only runs workflows.
func NewServer(executor *workflow.Executor, dispatcher Dispatcher, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Assistant",
			version,
			server.WithToolCapabilities(true),
		),
		executor:   executor,
		dispatcher: dispatcher,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"process_message",
			mcp.WithDescription("Send a chat message to the workflow assistant and get its reply"),
			mcp.WithString("content", mcp.Required(), mcp.Description("The message text")),
			mcp.WithString("user_id", mcp.Description("Conversation user, defaults to mcp")),
			mcp.WithString("channel_id", mcp.Description("Conversation channel, defaults to mcp")),
		),
		s.handleProcessMessage,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the registered workflows and their triggers"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"clear_state",
			mcp.WithDescription("Cancel the pending follow-up of a conversation"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Conversation user")),
			mcp.WithString("channel_id", mcp.Required(), mcp.Description("Conversation channel")),
		),
		s.handleClearState,
	)
}

func (s *Server) handleProcessMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil || content == "" {
		return mcp.NewToolResultError("Missing required parameter: content"), nil
	}
	msg := models.Message{
		Content:   content,
		UserID:    request.GetString("user_id", "mcp"),
		ChannelID: request.GetString("channel_id", "mcp"),
	}

	if s.dispatcher != nil {
		reply := s.dispatcher.Handle(ctx, msg)
		if reply == "" {
			reply = NoReplyMessage
		}
		return mcp.NewToolResultText(reply), nil
	}

	result := s.executor.ProcessMessage(ctx, msg)
	if result == nil {
		return mcp.NewToolResultText(NoReplyMessage), nil
	}
	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(s.executor.Registry().List())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode workflows: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleClearState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: user_id"), nil
	}
	channelID, err := request.RequireString("channel_id")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: channel_id"), nil
	}

	key := state.Key(userID, channelID)
	if err := s.executor.ClearState(ctx, key); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to clear state: %v", err)), nil
	}
	return mcp.NewToolResultText("Cleared " + key), nil
}

// MountHTTPHandlers serves the MCP SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}

// ServeStdio runs the server over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
