package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"workflow-assistant/backend/internal/auth"
	"workflow-assistant/backend/internal/workflow"
	"workflow-assistant/backend/pkg/models"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Process one chat message
	// (POST /messages)
	PostMessage(ctx echo.Context) error
	// List registered workflows
	// (GET /workflows)
	ListWorkflows(ctx echo.Context) error
	// Read the pending state of a conversation
	// (GET /state/{key})
	GetState(ctx echo.Context, key string) error
	// Drop the pending state of a conversation
	// (DELETE /state/{key})
	DeleteState(ctx echo.Context, key string) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// PostMessage converts echo context to params.
func (w *ServerInterfaceWrapper) PostMessage(ctx echo.Context) error {
	return w.Handler.PostMessage(ctx)
}

// ListWorkflows converts echo context to params.
func (w *ServerInterfaceWrapper) ListWorkflows(ctx echo.Context) error {
	return w.Handler.ListWorkflows(ctx)
}

func bindKey(ctx echo.Context) (string, error) {
	var key string
	err := runtime.BindStyledParameterWithOptions("simple", "key", ctx.Param("key"), &key,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter key: %s", err))
	}
	return key, nil
}

// GetState converts echo context to params.
func (w *ServerInterfaceWrapper) GetState(ctx echo.Context) error {
	key, err := bindKey(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetState(ctx, key)
}

// DeleteState converts echo context to params.
func (w *ServerInterfaceWrapper) DeleteState(ctx echo.Context) error {
	key, err := bindKey(ctx)
	if err != nil {
		return err
	}
	return w.Handler.DeleteState(ctx, key)
}

// EchoRouter is the subset of echo routing RegisterHandlers needs; both
// *echo.Echo and *echo.Group satisfy it.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}
	router.POST("/messages", wrapper.PostMessage)
	router.GET("/workflows", wrapper.ListWorkflows)
	router.GET("/state/:key", wrapper.GetState)
	router.DELETE("/state/:key", wrapper.DeleteState)
}

// MessageRequest is the body of POST /messages. The user is taken from the
// authenticated identity.
type MessageRequest struct {
	Content   string `json:"content"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id,omitempty"`
}

// StateResponse wraps a pending state with its key.
type StateResponse struct {
	Key   string                `json:"key"`
	State *models.WorkflowState `json:"state"`
}

// Server implements ServerInterface on top of the workflow executor.
type Server struct {
	executor *workflow.Executor
}

// NewServer creates a new Server.
func NewServer(executor *workflow.Executor) *Server {
	return &Server{executor: executor}
}

var _ ServerInterface = (*Server)(nil)

func identity(c echo.Context, scope string) (*auth.Identity, error) {
	id, ok := auth.FromContext(c.Request().Context())
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if !id.HasScope(scope) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "missing scope "+scope)
	}
	return id, nil
}

// ownsKey reports whether key belongs to a conversation of id.
func ownsKey(id *auth.Identity, key string) bool {
	return strings.HasPrefix(key, id.UserID()+":")
}

// PostMessage runs one workflow turn for the caller
// (POST /api/v1/messages)
func (s *Server) PostMessage(c echo.Context) error {
	id, err := identity(c, auth.ScopeWorkflowsWrite)
	if err != nil {
		return err
	}

	var body MessageRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(body.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if body.ChannelID == "" {
		body.ChannelID = "api"
	}

	result := s.executor.ProcessMessage(c.Request().Context(), models.Message{
		Content:   body.Content,
		UserID:    id.UserID(),
		ChannelID: body.ChannelID,
		MessageID: body.MessageID,
	})
	if result == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, result)
}

// ListWorkflows returns every registered workflow
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	if _, err := identity(c, auth.ScopeWorkflowsRead); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.executor.Registry().List())
}

// GetState returns the pending state for key
// (GET /api/v1/state/{key})
func (s *Server) GetState(c echo.Context, key string) error {
	id, err := identity(c, auth.ScopeWorkflowsRead)
	if err != nil {
		return err
	}
	if !ownsKey(id, key) {
		return echo.NewHTTPError(http.StatusForbidden, "state belongs to another user")
	}

	st, err := s.executor.Store().Get(c.Request().Context(), key)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load state: "+err.Error())
	}
	if st == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no pending state")
	}
	return c.JSON(http.StatusOK, StateResponse{Key: key, State: st})
}

// DeleteState cancels any pending follow-up for key
// (DELETE /api/v1/state/{key})
func (s *Server) DeleteState(c echo.Context, key string) error {
	id, err := identity(c, auth.ScopeWorkflowsWrite)
	if err != nil {
		return err
	}
	if !ownsKey(id, key) {
		return echo.NewHTTPError(http.StatusForbidden, "state belongs to another user")
	}
	if err := s.executor.ClearState(c.Request().Context(), key); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to clear state: "+err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
