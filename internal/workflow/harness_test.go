package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"workflow-assistant/backend/internal/capability"
	"workflow-assistant/backend/internal/repository"
	"workflow-assistant/backend/internal/safety"
	"workflow-assistant/backend/internal/selector"
	"workflow-assistant/backend/internal/services"
	"workflow-assistant/backend/internal/state"
	"workflow-assistant/backend/pkg/models"
)

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Complete(ctx context.Context, prompt string, opts services.CompletionOptions) (*services.Completion, error) {
	args := m.Called(ctx, prompt, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Completion), args.Error(1)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Execute(ctx context.Context, tool string, params map[string]any) (*models.CapabilityResponse, error) {
	args := m.Called(ctx, tool, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CapabilityResponse), args.Error(1)
}

func (m *MockProvider) ListTools(ctx context.Context) ([]models.ToolDescriptor, error) {
	return capability.NewNotionProvider(capability.NotionConfig{DatabaseID: "db"}).ListTools(ctx)
}

func (m *MockProvider) Describe() string { return "test database" }

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Schedule(ctx context.Context, userID, channelID, text string, fireAt time.Time) (*models.Reminder, error) {
	args := m.Called(ctx, userID, channelID, text, fireAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reminder), args.Error(1)
}

var testNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	llm       *MockLLMClient
	tasks     *MockProvider
	calendar  *MockProvider
	scheduler *MockScheduler
	durable   *repository.MemoryStore
	store     *state.Store
	registry  *Registry
	executor  *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		llm:       new(MockLLMClient),
		tasks:     new(MockProvider),
		calendar:  new(MockProvider),
		scheduler: new(MockScheduler),
		durable:   repository.NewMemoryStore(),
	}

	providers := capability.NewRegistry()
	providers.Register("tasks", h.tasks)
	providers.Register("calendar", h.calendar)

	validator := safety.NewValidator(map[string]string{"taskDbId": "task-db", "calendarDbId": "cal-db"}, nil)
	sel := selector.NewSelector(h.llm, validator, 0, nil)
	pipeline := NewPipeline(providers, sel, validator, nil, nil)

	h.registry = NewRegistry(nil)
	loader := NewLoader(h.registry, BuiltinFactory(pipeline, map[string]Handler{
		"tasks": NewTaskHandler(pipeline, "tasks"),
		"calendar": NewCalendarHandler(pipeline, "calendar",
			WithReminders(h.scheduler),
			WithCalendarClock(func() time.Time { return testNow })),
	}), nil)
	_, err := loader.Load(DefaultDefinitions)
	require.NoError(t, err)

	h.store = state.NewStore(h.durable, 30*time.Minute, nil)
	h.executor = NewExecutor(h.registry, h.store, nil)
	return h
}

func (h *harness) replies(contents ...string) {
	for _, c := range contents {
		h.llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.Completion{Content: c}, nil).Once()
	}
}

func (h *harness) send(content string) *models.WorkflowResult {
	return h.executor.ProcessMessage(context.Background(), models.Message{
		Content:   content,
		UserID:    "u1",
		ChannelID: "c1",
	})
}

func (h *harness) state(t *testing.T) *models.WorkflowState {
	t.Helper()
	st, err := h.store.Get(context.Background(), state.Key("u1", "c1"))
	require.NoError(t, err)
	return st
}

func params(key, value string) any {
	return mock.MatchedBy(func(p map[string]any) bool { return p[key] == value })
}
