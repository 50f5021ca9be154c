package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-assistant/backend/internal/auth"
	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/repository"
	"workflow-assistant/backend/internal/state"
	"workflow-assistant/backend/internal/workflow"
	"workflow-assistant/backend/pkg/models"
)

type testServer struct {
	echo     *echo.Echo
	executor *workflow.Executor
	identity *auth.Identity
}

// newTestServer wires a registry with one two-step "greet" workflow.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logging.Nop()
	registry := workflow.NewRegistry(logger)
	require.NoError(t, registry.Register(&workflow.Definition{
		ID:       "greet",
		Name:     "Greeting",
		Triggers: []string{"hello"},
		Handler: workflow.HandlerFuncs{
			ExecuteFunc: func(ctx context.Context, req *workflow.Request) (*models.WorkflowResult, error) {
				req.FollowUp("ask_name", 1, nil)
				return &models.WorkflowResult{Success: true, Message: "What is your name?", RequireFollowUp: true}, nil
			},
			ContinueFunc: func(ctx context.Context, req *workflow.Request, st *models.WorkflowState) (*models.WorkflowResult, error) {
				return &models.WorkflowResult{Success: true, Message: "Hi " + req.Message.Content}, nil
			},
		},
	}))
	store := state.NewStore(repository.NewMemoryStore(), time.Minute, logger)

	ts := &testServer{
		executor: workflow.NewExecutor(registry, store, logger),
		identity: &auth.Identity{Subject: "s1", Email: "ann@example.com", Scopes: auth.AllScopes},
	}
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ts.identity != nil {
				r := c.Request()
				c.SetRequest(r.WithContext(auth.WithIdentity(r.Context(), ts.identity)))
			}
			return next(c)
		}
	})
	RegisterHandlers(g, NewServer(ts.executor))
	ts.echo = e
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func TestPostMessage_RunsFollowUpConversation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/messages", `{"content":"hello there","channel_id":"web"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var first models.WorkflowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.RequireFollowUp)

	rec = ts.do(http.MethodGet, "/api/v1/state/ann@example.com:web", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "greet", st.State.WorkflowID)
	assert.Equal(t, "ask_name", st.State.Action)

	rec = ts.do(http.MethodPost, "/api/v1/messages", `{"content":"Ann","channel_id":"web"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var second models.WorkflowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, "Hi Ann", second.Message)

	rec = ts.do(http.MethodGet, "/api/v1/state/ann@example.com:web", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
}

func TestPostMessage_NoWorkflow(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/v1/messages", `{"content":"what's the weather"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPostMessage_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/messages", `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "content is required", problem.Detail)
	assert.Equal(t, "/api/v1/messages", problem.Instance)

	rec = ts.do(http.MethodPost, "/api/v1/messages", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScopesAndOwnership(t *testing.T) {
	ts := newTestServer(t)

	ts.identity = &auth.Identity{Subject: "s1", Email: "ann@example.com", Scopes: []string{auth.ScopeWorkflowsRead}}
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, "/api/v1/messages", `{"content":"hello"}`).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/workflows", "").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/v1/state/bob@example.com:web", "").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodDelete, "/api/v1/state/ann@example.com:web", "").Code)

	ts.identity = nil
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/v1/workflows", "").Code)
}

func TestListWorkflows(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/api/v1/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []models.WorkflowInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "greet", infos[0].ID)
	assert.Equal(t, []string{"hello"}, infos[0].Triggers)
}

func TestDeleteState(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/v1/messages", `{"content":"hello","channel_id":"web"}`).Code)

	rec := ts.do(http.MethodDelete, "/api/v1/state/ann@example.com:web", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// the next message must not be treated as a follow-up
	rec = ts.do(http.MethodPost, "/api/v1/messages", `{"content":"Ann","channel_id":"web"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(fakePinger{}, "test").HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)

	rec = httptest.NewRecorder()
	NewHandler(fakePinger{err: errors.New("connection refused")}, "test").HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "connection refused", status.Database)
}
